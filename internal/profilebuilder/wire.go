package profilebuilder

import "google.golang.org/protobuf/encoding/protowire"

// Field numbers of perftools.profiles.Profile and its nested messages.
const (
	profileSampleType  protowire.Number = 1
	profileSample      protowire.Number = 2
	profileMapping     protowire.Number = 3
	profileLocation    protowire.Number = 4
	profileFunction    protowire.Number = 5
	profileStringTable protowire.Number = 6

	valueTypeType protowire.Number = 1
	valueTypeUnit protowire.Number = 2

	sampleLocationID protowire.Number = 1
	sampleValue      protowire.Number = 2

	mappingID              protowire.Number = 1
	mappingMemoryStart     protowire.Number = 2
	mappingMemoryLimit     protowire.Number = 3
	mappingFileOffset      protowire.Number = 4
	mappingFilename        protowire.Number = 5
	mappingBuildID         protowire.Number = 6
	mappingHasFunctions    protowire.Number = 7
	mappingHasFilenames    protowire.Number = 8
	mappingHasLineNumbers  protowire.Number = 9
	mappingHasInlineFrames protowire.Number = 10

	locationID        protowire.Number = 1
	locationMappingID protowire.Number = 2
	locationAddress   protowire.Number = 3
	locationLine      protowire.Number = 4

	lineFunctionID protowire.Number = 1
	lineLine       protowire.Number = 2

	functionID         protowire.Number = 1
	functionName       protowire.Number = 2
	functionSystemName protowire.Number = 3
	functionFilename   protowire.Number = 4
)

// appendVarint writes a varint field, omitting zero values.
func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedUint64(b []byte, num protowire.Number, vals []uint64) []byte {
	if len(vals) == 0 {
		return b
	}
	var payload []byte
	for _, v := range vals {
		payload = protowire.AppendVarint(payload, v)
	}
	return appendMessage(b, num, payload)
}

// appendPackedInt64 encodes int64 values as plain (non-zigzag) varints.
func appendPackedInt64(b []byte, num protowire.Number, vals []int64) []byte {
	if len(vals) == 0 {
		return b
	}
	var payload []byte
	for _, v := range vals {
		payload = protowire.AppendVarint(payload, uint64(v))
	}
	return appendMessage(b, num, payload)
}

// encoder writes nested messages through one reusable scratch buffer. Only
// one nested message may be in flight at a time.
type encoder struct {
	scratch []byte
	line    []byte
}

func (e *encoder) valueType(b []byte, typ, unit int64) []byte {
	msg := e.scratch[:0]
	msg = appendVarint(msg, valueTypeType, uint64(typ))
	msg = appendVarint(msg, valueTypeUnit, uint64(unit))
	e.scratch = msg
	return appendMessage(b, profileSampleType, msg)
}

func (e *encoder) sample(b []byte, locationIDs []uint64, values []int64) []byte {
	msg := e.scratch[:0]
	msg = appendPackedUint64(msg, sampleLocationID, locationIDs)
	msg = appendPackedInt64(msg, sampleValue, values)
	e.scratch = msg
	return appendMessage(b, profileSample, msg)
}

func (e *encoder) mapping(b []byte, id uint64, m *mapping) []byte {
	msg := e.scratch[:0]
	msg = appendVarint(msg, mappingID, id)
	msg = appendVarint(msg, mappingMemoryStart, m.memoryStart)
	msg = appendVarint(msg, mappingMemoryLimit, m.memoryLimit)
	msg = appendVarint(msg, mappingFileOffset, m.fileOffset)
	msg = appendVarint(msg, mappingFilename, uint64(m.filename))
	msg = appendVarint(msg, mappingBuildID, uint64(m.buildID))
	msg = appendBool(msg, mappingHasFunctions, m.debugInfo.HasFunctions)
	msg = appendBool(msg, mappingHasFilenames, m.debugInfo.HasFilenames)
	msg = appendBool(msg, mappingHasLineNumbers, m.debugInfo.HasLineNumbers)
	msg = appendBool(msg, mappingHasInlineFrames, m.debugInfo.HasInlineFrames)
	e.scratch = msg
	return appendMessage(b, profileMapping, msg)
}

func (e *encoder) function(b []byte, id uint64, f function) []byte {
	msg := e.scratch[:0]
	msg = appendVarint(msg, functionID, id)
	msg = appendVarint(msg, functionName, uint64(f.name))
	msg = appendVarint(msg, functionSystemName, uint64(f.systemName))
	msg = appendVarint(msg, functionFilename, uint64(f.filename))
	e.scratch = msg
	return appendMessage(b, profileFunction, msg)
}

// location writes a Location with its Lines. address is absolute.
func (e *encoder) location(b []byte, id uint64, loc location, address uint64) []byte {
	msg := e.scratch[:0]
	msg = appendVarint(msg, locationID, id)
	msg = appendVarint(msg, locationMappingID, loc.mappingID)
	msg = appendVarint(msg, locationAddress, address)
	for _, ln := range loc.lines {
		l := e.line[:0]
		l = appendVarint(l, lineFunctionID, ln.functionID)
		l = appendVarint(l, lineLine, uint64(ln.line))
		e.line = l
		msg = appendMessage(msg, locationLine, l)
	}
	e.scratch = msg
	return appendMessage(b, profileLocation, msg)
}
