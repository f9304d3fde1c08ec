package tracestore

type (
	MappingID   uint32
	FrameID     uint32
	SymbolSetID uint32
	CallsiteID  uint32
	UPID        uint32
)

// Mapping is one row of the mapping table: a binary image loaded into a
// process address space.
type Mapping struct {
	ID          MappingID
	Start       uint64
	End         uint64
	ExactOffset uint64
	Name        StringID
	BuildID     StringID
}

// MappingTable stores mappings column-wise.
type MappingTable struct {
	start       []uint64
	end         []uint64
	exactOffset []uint64
	name        []StringID
	buildID     []StringID
}

// Insert appends m, ignoring m.ID, and returns the assigned id.
func (t *MappingTable) Insert(m Mapping) MappingID {
	t.start = append(t.start, m.Start)
	t.end = append(t.end, m.End)
	t.exactOffset = append(t.exactOffset, m.ExactOffset)
	t.name = append(t.name, m.Name)
	t.buildID = append(t.buildID, m.BuildID)
	return MappingID(len(t.start))
}

// Len returns the number of rows.
func (t *MappingTable) Len() int { return len(t.start) }

// Row returns the mapping with the given id.
func (t *MappingTable) Row(id MappingID) (Mapping, bool) {
	i := int(id) - 1
	if id == 0 || i >= len(t.start) {
		return Mapping{}, false
	}
	return Mapping{
		ID:          id,
		Start:       t.start[i],
		End:         t.end[i],
		ExactOffset: t.exactOffset[i],
		Name:        t.name[i],
		BuildID:     t.buildID[i],
	}, true
}

// Frame is one row of the frame table. Address is the absolute program
// counter. Mapping and SymbolSet are zero when unknown.
type Frame struct {
	ID               FrameID
	Name             StringID
	DeobfuscatedName StringID
	Mapping          MappingID
	Address          uint64
	SymbolSet        SymbolSetID
}

// FrameTable stores frames column-wise.
type FrameTable struct {
	name             []StringID
	deobfuscatedName []StringID
	mapping          []MappingID
	address          []uint64
	symbolSet        []SymbolSetID
}

// Insert appends f, ignoring f.ID, and returns the assigned id.
func (t *FrameTable) Insert(f Frame) FrameID {
	t.name = append(t.name, f.Name)
	t.deobfuscatedName = append(t.deobfuscatedName, f.DeobfuscatedName)
	t.mapping = append(t.mapping, f.Mapping)
	t.address = append(t.address, f.Address)
	t.symbolSet = append(t.symbolSet, f.SymbolSet)
	return FrameID(len(t.name))
}

// Len returns the number of rows.
func (t *FrameTable) Len() int { return len(t.name) }

// Row returns the frame with the given id.
func (t *FrameTable) Row(id FrameID) (Frame, bool) {
	i := int(id) - 1
	if id == 0 || i >= len(t.name) {
		return Frame{}, false
	}
	return Frame{
		ID:               id,
		Name:             t.name[i],
		DeobfuscatedName: t.deobfuscatedName[i],
		Mapping:          t.mapping[i],
		Address:          t.address[i],
		SymbolSet:        t.symbolSet[i],
	}, true
}

// SetDeobfuscatedName records a deobfuscated name for an existing frame.
func (t *FrameTable) SetDeobfuscatedName(id FrameID, name StringID) bool {
	i := int(id) - 1
	if id == 0 || i >= len(t.name) {
		return false
	}
	t.deobfuscatedName[i] = name
	return true
}

// Symbol is one inline level of a symbolized frame. LineNumber is zero when
// unknown.
type Symbol struct {
	SymbolSet  SymbolSetID
	Name       StringID
	SourceFile StringID
	LineNumber uint32
}

// SymbolTable groups symbol rows into sets. Rows within a set keep insertion
// order, which by convention is innermost inline level first.
type SymbolTable struct {
	rows []Symbol
	sets map[SymbolSetID][]int
	next SymbolSetID
}

// NewSet allocates a fresh, empty symbol set id.
func (t *SymbolTable) NewSet() SymbolSetID {
	t.next++
	return t.next
}

// Insert appends s to its set.
func (t *SymbolTable) Insert(s Symbol) {
	if t.sets == nil {
		t.sets = make(map[SymbolSetID][]int)
	}
	if s.SymbolSet > t.next {
		t.next = s.SymbolSet
	}
	t.sets[s.SymbolSet] = append(t.sets[s.SymbolSet], len(t.rows))
	t.rows = append(t.rows, s)
}

// Len returns the number of rows.
func (t *SymbolTable) Len() int { return len(t.rows) }

// Sets returns the highest symbol set id allocated so far.
func (t *SymbolTable) Sets() int { return int(t.next) }

// All returns every row in insertion order.
func (t *SymbolTable) All() []Symbol {
	return append([]Symbol(nil), t.rows...)
}

// Set returns the rows of one set in insertion order.
func (t *SymbolTable) Set(id SymbolSetID) []Symbol {
	idx := t.sets[id]
	if len(idx) == 0 {
		return nil
	}
	out := make([]Symbol, len(idx))
	for i, r := range idx {
		out[i] = t.rows[r]
	}
	return out
}

// Callsite is a node of the call tree. Parent is zero at the root.
type Callsite struct {
	ID     CallsiteID
	Depth  uint32
	Parent CallsiteID
	Frame  FrameID
}

type callsiteKey struct {
	parent CallsiteID
	frame  FrameID
}

// CallsiteTable stores the call tree. Identical (parent, frame) pairs share a
// node.
type CallsiteTable struct {
	depth  []uint32
	parent []CallsiteID
	frame  []FrameID
	index  map[callsiteKey]CallsiteID
}

// Intern returns the callsite for frame under parent, creating it if needed.
func (t *CallsiteTable) Intern(parent CallsiteID, frame FrameID) CallsiteID {
	key := callsiteKey{parent: parent, frame: frame}
	if id, ok := t.index[key]; ok {
		return id
	}
	if t.index == nil {
		t.index = make(map[callsiteKey]CallsiteID)
	}

	var depth uint32
	if p, ok := t.Row(parent); ok {
		depth = p.Depth + 1
	}
	t.depth = append(t.depth, depth)
	t.parent = append(t.parent, parent)
	t.frame = append(t.frame, frame)
	id := CallsiteID(len(t.frame))
	t.index[key] = id
	return id
}

// InternStack interns a root-first frame chain and returns the leaf callsite.
func (t *CallsiteTable) InternStack(rootFirst []FrameID) CallsiteID {
	var cs CallsiteID
	for _, f := range rootFirst {
		cs = t.Intern(cs, f)
	}
	return cs
}

// Len returns the number of rows.
func (t *CallsiteTable) Len() int { return len(t.frame) }

// Row returns the callsite with the given id.
func (t *CallsiteTable) Row(id CallsiteID) (Callsite, bool) {
	i := int(id) - 1
	if id == 0 || i >= len(t.frame) {
		return Callsite{}, false
	}
	return Callsite{ID: id, Depth: t.depth[i], Parent: t.parent[i], Frame: t.frame[i]}, true
}

// Process is one row of the process table.
type Process struct {
	UPID UPID
	PID  int64
	Name StringID
}

// ProcessTable stores processes.
type ProcessTable struct {
	rows []Process
}

// Insert appends p, ignoring p.UPID, and returns the assigned id.
func (t *ProcessTable) Insert(p Process) UPID {
	p.UPID = UPID(len(t.rows) + 1)
	t.rows = append(t.rows, p)
	return p.UPID
}

// Len returns the number of rows.
func (t *ProcessTable) Len() int { return len(t.rows) }

// Row returns the process with the given id.
func (t *ProcessTable) Row(id UPID) (Process, bool) {
	if id == 0 || int(id) > len(t.rows) {
		return Process{}, false
	}
	return t.rows[id-1], true
}

// All returns every process in id order.
func (t *ProcessTable) All() []Process {
	return append([]Process(nil), t.rows...)
}

// PerfSample is one CPU sample.
type PerfSample struct {
	Ts       int64
	UPID     UPID
	Callsite CallsiteID
}

// PerfSampleTable stores CPU samples in insertion order.
type PerfSampleTable struct {
	rows []PerfSample
}

func (t *PerfSampleTable) Insert(s PerfSample) { t.rows = append(t.rows, s) }
func (t *PerfSampleTable) Len() int            { return len(t.rows) }

// All returns every sample in insertion order.
func (t *PerfSampleTable) All() []PerfSample {
	return append([]PerfSample(nil), t.rows...)
}

// Allocation is one heap allocation record: Count objects totalling Size bytes
// allocated at Callsite.
type Allocation struct {
	Ts       int64
	UPID     UPID
	Callsite CallsiteID
	Count    int64
	Size     int64
}

// AllocationTable stores heap allocation records in insertion order.
type AllocationTable struct {
	rows []Allocation
}

func (t *AllocationTable) Insert(a Allocation) { t.rows = append(t.rows, a) }
func (t *AllocationTable) Len() int            { return len(t.rows) }

// All returns every allocation in insertion order.
func (t *AllocationTable) All() []Allocation {
	return append([]Allocation(nil), t.rows...)
}
