package repository

import (
	"time"

	"github.com/trace-pprof/internal/tracestore"
)

// Addresses are stored as the two's complement int64 of the uint64 value so
// that kernel addresses survive drivers without unsigned 64-bit support.
func toDB(v uint64) int64   { return int64(v) }
func fromDB(v int64) uint64 { return uint64(v) }

// TraceRecord represents the traces table.
type TraceRecord struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UUID        string    `gorm:"column:uuid;type:varchar(64);uniqueIndex"`
	Name        string    `gorm:"column:name;type:varchar(255)"`
	SymbolSets  int       `gorm:"column:symbol_sets"`
	Processes   int       `gorm:"column:processes"`
	PerfSamples int       `gorm:"column:perf_samples"`
	Allocations int       `gorm:"column:allocations"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName returns the table name for TraceRecord.
func (TraceRecord) TableName() string { return "traces" }

// ToSummary converts TraceRecord to TraceSummary.
func (r *TraceRecord) ToSummary() TraceSummary {
	return TraceSummary{
		UUID:        r.UUID,
		Name:        r.Name,
		Processes:   r.Processes,
		PerfSamples: r.PerfSamples,
		Allocations: r.Allocations,
		CreatedAt:   r.CreatedAt,
	}
}

// MappingRecord represents the trace_mappings table.
type MappingRecord struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID     string `gorm:"column:trace_id;type:varchar(64);index:idx_mapping_row,priority:1"`
	RowID       uint32 `gorm:"column:row_id;index:idx_mapping_row,priority:2"`
	MemoryStart int64  `gorm:"column:memory_start"`
	MemoryEnd   int64  `gorm:"column:memory_end"`
	ExactOffset int64  `gorm:"column:exact_offset"`
	Name        string `gorm:"column:name;type:text"`
	BuildID     string `gorm:"column:build_id;type:varchar(128)"`
}

// TableName returns the table name for MappingRecord.
func (MappingRecord) TableName() string { return "trace_mappings" }

// FrameRecord represents the trace_frames table.
type FrameRecord struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID          string `gorm:"column:trace_id;type:varchar(64);index:idx_frame_row,priority:1"`
	RowID            uint32 `gorm:"column:row_id;index:idx_frame_row,priority:2"`
	Name             string `gorm:"column:name;type:text"`
	DeobfuscatedName string `gorm:"column:deobfuscated_name;type:text"`
	MappingRowID     uint32 `gorm:"column:mapping_row_id"`
	Address          int64  `gorm:"column:address"`
	SymbolSetID      uint32 `gorm:"column:symbol_set_id"`
}

// TableName returns the table name for FrameRecord.
func (FrameRecord) TableName() string { return "trace_frames" }

// SymbolRecord represents the trace_symbols table. Seq keeps the inline order
// within a set.
type SymbolRecord struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID     string `gorm:"column:trace_id;type:varchar(64);index"`
	Seq         int    `gorm:"column:seq"`
	SymbolSetID uint32 `gorm:"column:symbol_set_id"`
	Name        string `gorm:"column:name;type:text"`
	SourceFile  string `gorm:"column:source_file;type:text"`
	LineNumber  uint32 `gorm:"column:line_number"`
}

// TableName returns the table name for SymbolRecord.
func (SymbolRecord) TableName() string { return "trace_symbols" }

// CallsiteRecord represents the trace_callsites table.
type CallsiteRecord struct {
	ID          int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID     string `gorm:"column:trace_id;type:varchar(64);index:idx_callsite_row,priority:1"`
	RowID       uint32 `gorm:"column:row_id;index:idx_callsite_row,priority:2"`
	Depth       uint32 `gorm:"column:depth"`
	ParentRowID uint32 `gorm:"column:parent_row_id"`
	FrameRowID  uint32 `gorm:"column:frame_row_id"`
}

// TableName returns the table name for CallsiteRecord.
func (CallsiteRecord) TableName() string { return "trace_callsites" }

// ProcessRecord represents the trace_processes table.
type ProcessRecord struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID string `gorm:"column:trace_id;type:varchar(64);index"`
	UPID    uint32 `gorm:"column:upid"`
	PID     int64  `gorm:"column:pid"`
	Name    string `gorm:"column:name;type:varchar(255)"`
}

// TableName returns the table name for ProcessRecord.
func (ProcessRecord) TableName() string { return "trace_processes" }

// PerfSampleRecord represents the trace_perf_samples table.
type PerfSampleRecord struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID       string `gorm:"column:trace_id;type:varchar(64);index"`
	Ts            int64  `gorm:"column:ts"`
	UPID          uint32 `gorm:"column:upid"`
	CallsiteRowID uint32 `gorm:"column:callsite_row_id"`
}

// TableName returns the table name for PerfSampleRecord.
func (PerfSampleRecord) TableName() string { return "trace_perf_samples" }

// AllocationRecord represents the trace_allocations table.
type AllocationRecord struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID       string `gorm:"column:trace_id;type:varchar(64);index"`
	Ts            int64  `gorm:"column:ts"`
	UPID          uint32 `gorm:"column:upid"`
	CallsiteRowID uint32 `gorm:"column:callsite_row_id"`
	Count         int64  `gorm:"column:count"`
	Size          int64  `gorm:"column:size"`
}

// TableName returns the table name for AllocationRecord.
func (AllocationRecord) TableName() string { return "trace_allocations" }

// AllModels lists every model for AutoMigrate.
func AllModels() []interface{} {
	return []interface{}{
		&TraceRecord{},
		&MappingRecord{},
		&FrameRecord{},
		&SymbolRecord{},
		&CallsiteRecord{},
		&ProcessRecord{},
		&PerfSampleRecord{},
		&AllocationRecord{},
	}
}

// traceRows is the flattened form of one trace.
type traceRows struct {
	mappings    []MappingRecord
	frames      []FrameRecord
	symbols     []SymbolRecord
	callsites   []CallsiteRecord
	processes   []ProcessRecord
	perfSamples []PerfSampleRecord
	allocations []AllocationRecord
}

func flatten(traceID string, s *tracestore.Storage) *traceRows {
	rows := &traceRows{}

	for id := tracestore.MappingID(1); int(id) <= s.Mappings.Len(); id++ {
		m, _ := s.Mappings.Row(id)
		rows.mappings = append(rows.mappings, MappingRecord{
			TraceID:     traceID,
			RowID:       uint32(id),
			MemoryStart: toDB(m.Start),
			MemoryEnd:   toDB(m.End),
			ExactOffset: toDB(m.ExactOffset),
			Name:        s.String(m.Name),
			BuildID:     s.String(m.BuildID),
		})
	}

	for id := tracestore.FrameID(1); int(id) <= s.Frames.Len(); id++ {
		f, _ := s.Frames.Row(id)
		rows.frames = append(rows.frames, FrameRecord{
			TraceID:          traceID,
			RowID:            uint32(id),
			Name:             s.String(f.Name),
			DeobfuscatedName: s.String(f.DeobfuscatedName),
			MappingRowID:     uint32(f.Mapping),
			Address:          toDB(f.Address),
			SymbolSetID:      uint32(f.SymbolSet),
		})
	}

	for i, sym := range s.Symbols.All() {
		rows.symbols = append(rows.symbols, SymbolRecord{
			TraceID:     traceID,
			Seq:         i,
			SymbolSetID: uint32(sym.SymbolSet),
			Name:        s.String(sym.Name),
			SourceFile:  s.String(sym.SourceFile),
			LineNumber:  sym.LineNumber,
		})
	}

	for id := tracestore.CallsiteID(1); int(id) <= s.Callsites.Len(); id++ {
		cs, _ := s.Callsites.Row(id)
		rows.callsites = append(rows.callsites, CallsiteRecord{
			TraceID:     traceID,
			RowID:       uint32(id),
			Depth:       cs.Depth,
			ParentRowID: uint32(cs.Parent),
			FrameRowID:  uint32(cs.Frame),
		})
	}

	for _, p := range s.Processes.All() {
		rows.processes = append(rows.processes, ProcessRecord{
			TraceID: traceID,
			UPID:    uint32(p.UPID),
			PID:     p.PID,
			Name:    s.String(p.Name),
		})
	}

	for _, ps := range s.PerfSamples.All() {
		rows.perfSamples = append(rows.perfSamples, PerfSampleRecord{
			TraceID:       traceID,
			Ts:            ps.Ts,
			UPID:          uint32(ps.UPID),
			CallsiteRowID: uint32(ps.Callsite),
		})
	}

	for _, a := range s.Allocations.All() {
		rows.allocations = append(rows.allocations, AllocationRecord{
			TraceID:       traceID,
			Ts:            a.Ts,
			UPID:          uint32(a.UPID),
			CallsiteRowID: uint32(a.Callsite),
			Count:         a.Count,
			Size:          a.Size,
		})
	}

	return rows
}
