package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
)

const defaultBatchSize = 500

// GormTraceRepository implements TraceRepository using GORM.
type GormTraceRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewGormTraceRepository creates a new GormTraceRepository.
func NewGormTraceRepository(db *gorm.DB) *GormTraceRepository {
	return &GormTraceRepository{db: db, batchSize: defaultBatchSize}
}

// SaveTrace stores all tables of store in one transaction.
func (r *GormTraceRepository) SaveTrace(ctx context.Context, name string, store *tracestore.Storage) (string, error) {
	if store == nil {
		return "", apperrors.New(apperrors.CodeInvalidInput, "trace store is nil")
	}

	traceID := uuid.NewString()
	rows := flatten(traceID, store)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := &TraceRecord{
			UUID:        traceID,
			Name:        name,
			SymbolSets:  store.Symbols.Sets(),
			Processes:   len(rows.processes),
			PerfSamples: len(rows.perfSamples),
			Allocations: len(rows.allocations),
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to insert trace: %w", err)
		}

		if err := createAll(tx, rows.mappings, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert mappings: %w", err)
		}
		if err := createAll(tx, rows.frames, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert frames: %w", err)
		}
		if err := createAll(tx, rows.symbols, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert symbols: %w", err)
		}
		if err := createAll(tx, rows.callsites, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert callsites: %w", err)
		}
		if err := createAll(tx, rows.processes, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert processes: %w", err)
		}
		if err := createAll(tx, rows.perfSamples, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert perf samples: %w", err)
		}
		if err := createAll(tx, rows.allocations, r.batchSize); err != nil {
			return fmt.Errorf("failed to insert allocations: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeStoreError, "failed to save trace", err)
	}

	return traceID, nil
}

func createAll[T any](tx *gorm.DB, rows []T, batchSize int) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, batchSize).Error
}

// LoadTrace rebuilds a trace. Rows are re-inserted in id order, so every id
// of the saved storage is preserved.
func (r *GormTraceRepository) LoadTrace(ctx context.Context, traceID string) (*tracestore.Storage, error) {
	db := r.db.WithContext(ctx)

	var record TraceRecord
	if err := db.Where("uuid = ?", traceID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "trace not found: %s", traceID)
		}
		return nil, apperrors.Wrap(apperrors.CodeStoreError, "failed to get trace", err)
	}

	var (
		mappings    []MappingRecord
		frames      []FrameRecord
		symbols     []SymbolRecord
		callsites   []CallsiteRecord
		processes   []ProcessRecord
		perfSamples []PerfSampleRecord
		allocations []AllocationRecord
	)
	queries := []struct {
		table string
		order string
		dest  interface{}
	}{
		{"mappings", "row_id", &mappings},
		{"frames", "row_id", &frames},
		{"symbols", "seq", &symbols},
		{"callsites", "row_id", &callsites},
		{"processes", "upid", &processes},
		{"perf samples", "id", &perfSamples},
		{"allocations", "id", &allocations},
	}
	for _, q := range queries {
		if err := db.Where("trace_id = ?", traceID).Order(q.order).Find(q.dest).Error; err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStoreError, "failed to query "+q.table, err)
		}
	}

	s := tracestore.New()

	for _, m := range mappings {
		id := s.Mappings.Insert(tracestore.Mapping{
			Start:       fromDB(m.MemoryStart),
			End:         fromDB(m.MemoryEnd),
			ExactOffset: fromDB(m.ExactOffset),
			Name:        s.Strings.Intern(m.Name),
			BuildID:     s.Strings.Intern(m.BuildID),
		})
		if err := checkRowID("mapping", uint32(id), m.RowID); err != nil {
			return nil, err
		}
	}

	for _, sym := range symbols {
		s.Symbols.Insert(tracestore.Symbol{
			SymbolSet:  tracestore.SymbolSetID(sym.SymbolSetID),
			Name:       s.Strings.Intern(sym.Name),
			SourceFile: s.Strings.Intern(sym.SourceFile),
			LineNumber: sym.LineNumber,
		})
	}
	for s.Symbols.Sets() < record.SymbolSets {
		s.Symbols.NewSet()
	}

	for _, f := range frames {
		id := s.Frames.Insert(tracestore.Frame{
			Name:             s.Strings.Intern(f.Name),
			DeobfuscatedName: s.Strings.Intern(f.DeobfuscatedName),
			Mapping:          tracestore.MappingID(f.MappingRowID),
			Address:          fromDB(f.Address),
			SymbolSet:        tracestore.SymbolSetID(f.SymbolSetID),
		})
		if err := checkRowID("frame", uint32(id), f.RowID); err != nil {
			return nil, err
		}
	}

	for _, cs := range callsites {
		id := s.Callsites.Intern(tracestore.CallsiteID(cs.ParentRowID), tracestore.FrameID(cs.FrameRowID))
		if err := checkRowID("callsite", uint32(id), cs.RowID); err != nil {
			return nil, err
		}
	}

	for _, p := range processes {
		id := s.Processes.Insert(tracestore.Process{PID: p.PID, Name: s.Strings.Intern(p.Name)})
		if err := checkRowID("process", uint32(id), p.UPID); err != nil {
			return nil, err
		}
	}

	for _, ps := range perfSamples {
		s.PerfSamples.Insert(tracestore.PerfSample{
			Ts:       ps.Ts,
			UPID:     tracestore.UPID(ps.UPID),
			Callsite: tracestore.CallsiteID(ps.CallsiteRowID),
		})
	}

	for _, a := range allocations {
		s.Allocations.Insert(tracestore.Allocation{
			Ts:       a.Ts,
			UPID:     tracestore.UPID(a.UPID),
			Callsite: tracestore.CallsiteID(a.CallsiteRowID),
			Count:    a.Count,
			Size:     a.Size,
		})
	}

	return s, nil
}

func checkRowID(table string, got, want uint32) error {
	if got != want {
		return apperrors.Newf(apperrors.CodeStoreError,
			"corrupt %s rows: expected id %d, rebuilt as %d", table, want, got)
	}
	return nil
}

// ListTraces returns up to limit traces, newest first.
func (r *GormTraceRepository) ListTraces(ctx context.Context, limit int) ([]TraceSummary, error) {
	var records []TraceRecord

	query := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreError, "failed to list traces", err)
	}

	result := make([]TraceSummary, len(records))
	for i := range records {
		result[i] = records[i].ToSummary()
	}
	return result, nil
}

// DeleteTrace removes a trace and its rows in one transaction.
func (r *GormTraceRepository) DeleteTrace(ctx context.Context, traceID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("uuid = ?", traceID).Delete(&TraceRecord{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.Newf(apperrors.CodeNotFound, "trace not found: %s", traceID)
		}

		for _, m := range AllModels()[1:] {
			if err := tx.Where("trace_id = ?", traceID).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return err
		}
		return apperrors.Wrap(apperrors.CodeStoreError, "failed to delete trace", err)
	}
	return nil
}
