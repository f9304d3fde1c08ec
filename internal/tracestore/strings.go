package tracestore

// StringID identifies a string in a StringPool. The zero id is the empty string.
type StringID uint32

// StringPool interns strings so that every table column can store a small id.
type StringPool struct {
	strings []string
	index   map[string]StringID
}

// NewStringPool returns a pool holding only the empty string.
func NewStringPool() *StringPool {
	return &StringPool{
		strings: []string{""},
		index:   map[string]StringID{"": 0},
	}
}

// Intern returns the id for s, adding it if needed.
func (p *StringPool) Intern(s string) StringID {
	if id, ok := p.index[s]; ok {
		return id
	}
	id := StringID(len(p.strings))
	p.strings = append(p.strings, s)
	p.index[s] = id
	return id
}

// Get returns the string for id. Unknown ids resolve to "".
func (p *StringPool) Get(id StringID) string {
	if int(id) >= len(p.strings) {
		return ""
	}
	return p.strings[id]
}

// Len is the number of pooled strings including the empty string.
func (p *StringPool) Len() int {
	return len(p.strings)
}
