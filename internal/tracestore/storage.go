package tracestore

// Storage aggregates the tables of one trace.
type Storage struct {
	Strings     *StringPool
	Mappings    MappingTable
	Frames      FrameTable
	Symbols     SymbolTable
	Callsites   CallsiteTable
	Processes   ProcessTable
	PerfSamples PerfSampleTable
	Allocations AllocationTable
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{Strings: NewStringPool()}
}

// String resolves a pooled string.
func (s *Storage) String(id StringID) string {
	return s.Strings.Get(id)
}

// Mapping returns a mapping row.
func (s *Storage) Mapping(id MappingID) (Mapping, bool) {
	return s.Mappings.Row(id)
}

// Frame returns a frame row.
func (s *Storage) Frame(id FrameID) (Frame, bool) {
	return s.Frames.Row(id)
}

// SymbolSet returns the rows of a symbol set, innermost first.
func (s *Storage) SymbolSet(id SymbolSetID) []Symbol {
	return s.Symbols.Set(id)
}

// Callstack resolves a callsite into its frames ordered leaf to root. A
// dangling parent or a parent chain longer than the table ends the walk.
func (s *Storage) Callstack(id CallsiteID) []FrameID {
	var frames []FrameID
	limit := s.Callsites.Len()
	for steps := 0; id != 0 && steps < limit; steps++ {
		cs, ok := s.Callsites.Row(id)
		if !ok {
			break
		}
		frames = append(frames, cs.Frame)
		id = cs.Parent
	}
	return frames
}
