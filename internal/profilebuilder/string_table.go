package profilebuilder

import (
	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/trace-pprof/internal/tracestore"
)

const emptyStringIndex int64 = 0

// stringTable assigns profile string_table indexes. Equal text always maps
// to the same index whether it arrives as raw text or as a pooled id.
type stringTable struct {
	pool    func(tracestore.StringID) string
	strings []string
	pooled  map[tracestore.StringID]int64
	hashed  map[uint64][]int64
}

func newStringTable(pool func(tracestore.StringID) string) *stringTable {
	return &stringTable{
		pool:    pool,
		strings: []string{""},
		pooled:  map[tracestore.StringID]int64{0: emptyStringIndex},
		hashed:  map[uint64][]int64{},
	}
}

func (t *stringTable) intern(s string) int64 {
	if s == "" {
		return emptyStringIndex
	}
	h := xxhash.Sum64String(s)
	for _, idx := range t.hashed[h] {
		if t.strings[idx] == s {
			return idx
		}
	}
	idx := int64(len(t.strings))
	t.strings = append(t.strings, s)
	t.hashed[h] = append(t.hashed[h], idx)
	return idx
}

func (t *stringTable) internPooled(id tracestore.StringID) int64 {
	if idx, ok := t.pooled[id]; ok {
		return idx
	}
	idx := t.intern(t.pool(id))
	t.pooled[id] = idx
	return idx
}

func (t *stringTable) get(idx int64) string {
	return t.strings[idx]
}

func (t *stringTable) len() int {
	return len(t.strings)
}

// appendTo writes every entry, including the leading empty string, as
// string_table fields.
func (t *stringTable) appendTo(b []byte) []byte {
	for _, s := range t.strings {
		b = protowire.AppendTag(b, profileStringTable, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}
