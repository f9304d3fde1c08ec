package profilebuilder

import (
	"encoding/binary"
	"slices"

	"github.com/cespare/xxhash/v2"
)

func hashUint64s(vals ...uint64) uint64 {
	buf := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint64(buf, v)
	}
	return xxhash.Sum64(buf)
}

type line struct {
	functionID uint64
	line       int64
}

// location is one stack frame as written to the profile. relPC is relative
// to the start of its mapping so that the same code loaded at different
// addresses collapses into one location.
type location struct {
	mappingID uint64
	relPC     uint64
	lines     []line
}

func (l location) hash() uint64 {
	vals := make([]uint64, 0, 3+2*len(l.lines))
	vals = append(vals, l.mappingID, l.relPC, uint64(len(l.lines)))
	for _, ln := range l.lines {
		vals = append(vals, ln.functionID, uint64(ln.line))
	}
	return hashUint64s(vals...)
}

func (l location) equal(o location) bool {
	return l.mappingID == o.mappingID && l.relPC == o.relPC && slices.Equal(l.lines, o.lines)
}

// mappingKey identifies a binary independently of its load address.
type mappingKey struct {
	size              uint64
	fileOffset        uint64
	buildIDOrFilename int64
}

func (k mappingKey) hash() uint64 {
	return hashUint64s(k.size, k.fileOffset, uint64(k.buildIDOrFilename))
}

func (k mappingKey) equal(o mappingKey) bool {
	return k == o
}

type function struct {
	name       int64
	systemName int64
	filename   int64
}

func (f function) hash() uint64 {
	return hashUint64s(uint64(f.name), uint64(f.systemName), uint64(f.filename))
}

func (f function) equal(o function) bool {
	return f == o
}

// DebugInfo records which kinds of symbol information were seen for frames
// of a mapping. Flags are only ever set.
type DebugInfo struct {
	HasFunctions    bool
	HasFilenames    bool
	HasLineNumbers  bool
	HasInlineFrames bool
}

func (d *DebugInfo) merge(o DebugInfo) {
	d.HasFunctions = d.HasFunctions || o.HasFunctions
	d.HasFilenames = d.HasFilenames || o.HasFilenames
	d.HasLineNumbers = d.HasLineNumbers || o.HasLineNumbers
	d.HasInlineFrames = d.HasInlineFrames || o.HasInlineFrames
}

type mapping struct {
	memoryStart uint64
	memoryLimit uint64
	fileOffset  uint64
	filename    int64
	buildID     int64
	filenameStr string
	debugInfo   DebugInfo
}

func (m *mapping) info() MappingInfo {
	return MappingInfo{
		Filename:   m.filenameStr,
		HasBuildID: m.buildID != emptyStringIndex,
		Start:      m.memoryStart,
		Limit:      m.memoryLimit,
		Offset:     m.fileOffset,
		DebugInfo:  m.debugInfo,
	}
}

type dedupKey[K any] interface {
	hash() uint64
	equal(K) bool
}

// dedupMap assigns sequential ids starting at 1 to distinct values. Values are
// retained in id order and double as the staging area for writing.
type dedupMap[K dedupKey[K]] struct {
	buckets map[uint64][]int
	values  []K
}

func (m *dedupMap[K]) intern(v K) (id uint64, created bool) {
	h := v.hash()
	for _, i := range m.buckets[h] {
		if m.values[i].equal(v) {
			return uint64(i) + 1, false
		}
	}
	if m.buckets == nil {
		m.buckets = make(map[uint64][]int)
	}
	m.buckets[h] = append(m.buckets[h], len(m.values))
	m.values = append(m.values, v)
	return uint64(len(m.values)), true
}

func (m *dedupMap[K]) len() int {
	return len(m.values)
}
