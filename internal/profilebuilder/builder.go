package profilebuilder

import (
	"bytes"

	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
)

// Source is the read-only view of trace storage a Builder resolves samples
// against. *tracestore.Storage implements it.
type Source interface {
	String(id tracestore.StringID) string
	Mapping(id tracestore.MappingID) (tracestore.Mapping, bool)
	Frame(id tracestore.FrameID) (tracestore.Frame, bool)
	SymbolSet(id tracestore.SymbolSetID) []tracestore.Symbol
	// Callstack returns the frames of a callsite ordered leaf to root.
	Callstack(id tracestore.CallsiteID) []tracestore.FrameID
}

// SampleType describes one value column of every sample, e.g.
// {"alloc_space", "bytes"}.
type SampleType struct {
	Type string
	Unit string
}

type state int

const (
	stateStaging state = iota
	stateFinalized
)

// Option configures a Builder.
type Option func(*Builder)

// WithMainBinaryScorer replaces MainBinaryScore.
func WithMainBinaryScorer(score ScoreFunc) Option {
	return func(b *Builder) {
		if score != nil {
			b.score = score
		}
	}
}

// Stats summarizes what a Builder has staged.
type Stats struct {
	Samples   int
	Locations int
	Functions int
	Mappings  int
	Strings   int
}

// Builder accumulates samples into a pprof profile.
type Builder struct {
	src   Source
	score ScoreFunc
	state state

	strings        *stringTable
	enc            encoder
	numSampleTypes int
	header         []byte
	samples        []byte
	numSamples     int

	callsiteLocations map[tracestore.CallsiteID][]uint64
	frameLocations    map[tracestore.FrameID]uint64
	frameFunctions    map[tracestore.FrameID]uint64
	rowMappings       map[tracestore.MappingID]uint64

	locations   dedupMap[location]
	functions   dedupMap[function]
	mappingKeys dedupMap[mappingKey]
	// mappings[id-1] is the staged mapping with that id.
	mappings []mapping

	mainBinary uint64
	result     []byte
}

// New creates a Builder whose samples carry one value per sample type.
func New(src Source, sampleTypes []SampleType, opts ...Option) *Builder {
	b := &Builder{
		src:               src,
		score:             MainBinaryScore,
		strings:           newStringTable(src.String),
		numSampleTypes:    len(sampleTypes),
		callsiteLocations: make(map[tracestore.CallsiteID][]uint64),
		frameLocations:    make(map[tracestore.FrameID]uint64),
		frameFunctions:    make(map[tracestore.FrameID]uint64),
		rowMappings:       make(map[tracestore.MappingID]uint64),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, st := range sampleTypes {
		b.header = b.enc.valueType(b.header, b.strings.intern(st.Type), b.strings.intern(st.Unit))
	}
	return b
}

// AddSample records one sample of the stack ending at callsite. values holds
// one entry per sample type; missing entries are zero and extra entries are
// dropped. Samples are never merged, even when stacks repeat. After Build
// this is a no-op.
func (b *Builder) AddSample(callsite tracestore.CallsiteID, values []int64) {
	if b.state == stateFinalized {
		return
	}
	if len(values) != b.numSampleTypes {
		fitted := make([]int64, b.numSampleTypes)
		copy(fitted, values)
		values = fitted
	}
	b.samples = b.enc.sample(b.samples, b.locationIDsForCallsite(callsite), values)
	b.numSamples++
}

// Build finalizes the profile on first call and returns the serialized
// bytes. Later calls return the same bytes.
func (b *Builder) Build() []byte {
	if b.state != stateFinalized {
		b.finalize()
	}
	return bytes.Clone(b.result)
}

// MainBinary returns the profile id of the mapping chosen as main binary.
// It reports false before Build or when no mapping was staged.
func (b *Builder) MainBinary() (uint64, bool) {
	return b.mainBinary, b.mainBinary != 0
}

// MainBinaryFilename returns the file name of the main binary mapping.
func (b *Builder) MainBinaryFilename() (string, bool) {
	if b.mainBinary == 0 {
		return "", false
	}
	return b.mapping(b.mainBinary).filenameStr, true
}

// Stats reports the number of staged entities.
func (b *Builder) Stats() Stats {
	return Stats{
		Samples:   b.numSamples,
		Locations: b.locations.len(),
		Functions: b.functions.len(),
		Mappings:  len(b.mappings),
		Strings:   b.strings.len(),
	}
}

func (b *Builder) locationIDsForCallsite(callsite tracestore.CallsiteID) []uint64 {
	if ids, ok := b.callsiteLocations[callsite]; ok {
		return ids
	}
	frames := b.src.Callstack(callsite)
	ids := make([]uint64, 0, len(frames))
	for _, frame := range frames {
		ids = append(ids, b.stageLocation(frame))
	}
	b.callsiteLocations[callsite] = ids
	return ids
}

func (b *Builder) stageLocation(frameID tracestore.FrameID) uint64 {
	if id, ok := b.frameLocations[frameID]; ok {
		return id
	}

	// A missing frame row degrades to an empty, unmapped location.
	frame, _ := b.src.Frame(frameID)

	loc := location{}
	if m, ok := b.src.Mapping(frame.Mapping); ok {
		loc.mappingID = b.stageMapping(m)
		if frame.Address >= m.Start {
			loc.relPC = frame.Address - m.Start
		}
	}
	loc.lines = b.linesForFrame(frame, loc.mappingID)

	id, _ := b.locations.intern(loc)
	b.frameLocations[frameID] = id
	return id
}

func (b *Builder) linesForFrame(frame tracestore.Frame, mappingID uint64) []line {
	if frame.SymbolSet != 0 {
		if lines := b.linesForSymbolSet(frame.SymbolSet, mappingID); len(lines) > 0 {
			return lines
		}
	}
	functionID := b.stageFrameFunction(frame, mappingID)
	if functionID == 0 {
		return nil
	}
	return []line{{functionID: functionID}}
}

// linesForSymbolSet turns each inline level of a symbol set into one line,
// innermost first, and records the debug info it reveals on the mapping.
func (b *Builder) linesForSymbolSet(set tracestore.SymbolSetID, mappingID uint64) []line {
	symbols := b.src.SymbolSet(set)
	if len(symbols) == 0 {
		return nil
	}

	var debug DebugInfo
	lines := make([]line, 0, len(symbols))
	for _, sym := range symbols {
		debug.HasFunctions = true
		if sym.SourceFile != 0 {
			debug.HasFilenames = true
		}
		if sym.LineNumber != 0 {
			debug.HasLineNumbers = true
		}
		lines = append(lines, line{
			functionID: b.stageSymbolFunction(sym),
			line:       int64(sym.LineNumber),
		})
	}
	debug.HasInlineFrames = len(lines) > 1

	if mappingID != 0 {
		b.mapping(mappingID).debugInfo.merge(debug)
	}
	return lines
}

func (b *Builder) stageSymbolFunction(sym tracestore.Symbol) uint64 {
	name := b.strings.internPooled(sym.Name)
	id, _ := b.functions.intern(function{
		name:       name,
		systemName: name,
		filename:   b.strings.internPooled(sym.SourceFile),
	})
	return id
}

// stageFrameFunction derives a function from an unsymbolized frame. The
// deobfuscated name is preferred for display, the raw name is kept as the
// system name and the mapping's filename stands in for the source file. A
// frame without a name has no function and 0 is returned.
func (b *Builder) stageFrameFunction(frame tracestore.Frame, mappingID uint64) uint64 {
	if id, ok := b.frameFunctions[frame.ID]; ok {
		return id
	}

	var id uint64
	if frame.Name != 0 {
		systemName := b.strings.internPooled(frame.Name)
		name := systemName
		if frame.DeobfuscatedName != 0 {
			name = b.strings.internPooled(frame.DeobfuscatedName)
		}
		var filename int64
		if mappingID != 0 {
			m := b.mapping(mappingID)
			filename = m.filename
			m.debugInfo.HasFunctions = true
		}
		id, _ = b.functions.intern(function{name: name, systemName: systemName, filename: filename})
	}

	b.frameFunctions[frame.ID] = id
	return id
}

func (b *Builder) stageMapping(row tracestore.Mapping) uint64 {
	if id, ok := b.rowMappings[row.ID]; ok {
		return id
	}

	var size uint64
	if row.End > row.Start {
		size = row.End - row.Start
	}
	filename := b.strings.internPooled(row.Name)
	buildID := b.strings.internPooled(row.BuildID)
	identity := buildID
	if identity == emptyStringIndex {
		identity = filename
	}

	id, created := b.mappingKeys.intern(mappingKey{
		size:              size,
		fileOffset:        row.ExactOffset,
		buildIDOrFilename: identity,
	})
	if created {
		b.mappings = append(b.mappings, mapping{
			memoryStart: row.Start,
			memoryLimit: row.End,
			fileOffset:  row.ExactOffset,
			filename:    filename,
			buildID:     buildID,
			filenameStr: b.strings.get(filename),
		})
	}
	b.rowMappings[row.ID] = id
	return id
}

func (b *Builder) mapping(id uint64) *mapping {
	if id == 0 || id > uint64(len(b.mappings)) {
		panic(apperrors.Newf(apperrors.CodeInvariantViolation,
			"mapping id %d not staged (%d mappings)", id, len(b.mappings)))
	}
	return &b.mappings[id-1]
}

func (b *Builder) checkFunction(id uint64) {
	if id == 0 || id > uint64(b.functions.len()) {
		panic(apperrors.Newf(apperrors.CodeInvariantViolation,
			"function id %d not staged (%d functions)", id, b.functions.len()))
	}
}

func (b *Builder) finalize() {
	b.mainBinary = guessMainBinary(b.mappings, b.score)

	out := make([]byte, 0, len(b.header)+len(b.samples)+64*(len(b.mappings)+b.functions.len()+b.locations.len()))
	out = append(out, b.header...)
	out = append(out, b.samples...)
	out = b.writeMappings(out)
	out = b.writeFunctions(out)
	out = b.writeLocations(out)
	out = b.strings.appendTo(out)

	b.result = out
	b.samples = nil
	b.state = stateFinalized
}

// writeMappings emits the main binary first, which is how pprof consumers
// identify it, followed by the remaining mappings in id order.
func (b *Builder) writeMappings(out []byte) []byte {
	if b.mainBinary != 0 {
		out = b.enc.mapping(out, b.mainBinary, b.mapping(b.mainBinary))
	}
	for i := range b.mappings {
		id := uint64(i) + 1
		if id == b.mainBinary {
			continue
		}
		out = b.enc.mapping(out, id, &b.mappings[i])
	}
	return out
}

func (b *Builder) writeFunctions(out []byte) []byte {
	for i, f := range b.functions.values {
		out = b.enc.function(out, uint64(i)+1, f)
	}
	return out
}

func (b *Builder) writeLocations(out []byte) []byte {
	for i, loc := range b.locations.values {
		var address uint64
		if loc.mappingID != 0 {
			address = loc.relPC + b.mapping(loc.mappingID).memoryStart
		}
		for _, ln := range loc.lines {
			b.checkFunction(ln.functionID)
		}
		out = b.enc.location(out, uint64(i)+1, loc, address)
	}
	return out
}
