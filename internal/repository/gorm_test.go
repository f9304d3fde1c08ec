package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/trace-pprof/internal/exporter"
	"github.com/trace-pprof/internal/testutil"
	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// Every connection to ":memory:" is a separate database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(AllModels()...))
	return db
}

func TestGormTraceRepository_SaveAndLoad(t *testing.T) {
	repo := NewGormTraceRepository(setupTestDB(t))
	ctx := context.Background()

	original := testutil.AppServerTrace().Store
	id, err := repo.SaveTrace(ctx, "app-server", original)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := repo.LoadTrace(ctx, id)
	require.NoError(t, err)

	t.Run("table sizes", func(t *testing.T) {
		assert.Equal(t, original.Mappings.Len(), loaded.Mappings.Len())
		assert.Equal(t, original.Frames.Len(), loaded.Frames.Len())
		assert.Equal(t, original.Symbols.Len(), loaded.Symbols.Len())
		assert.Equal(t, original.Symbols.Sets(), loaded.Symbols.Sets())
		assert.Equal(t, original.Callsites.Len(), loaded.Callsites.Len())
		assert.Equal(t, original.Processes.Len(), loaded.Processes.Len())
		assert.Equal(t, original.PerfSamples.All(), loaded.PerfSamples.All())
		assert.Equal(t, original.Allocations.All(), loaded.Allocations.All())
	})

	t.Run("rows keep their ids", func(t *testing.T) {
		for id := tracestore.MappingID(1); int(id) <= original.Mappings.Len(); id++ {
			want, _ := original.Mapping(id)
			got, ok := loaded.Mapping(id)
			require.True(t, ok)
			assert.Equal(t, want.Start, got.Start)
			assert.Equal(t, want.End, got.End)
			assert.Equal(t, original.String(want.Name), loaded.String(got.Name))
			assert.Equal(t, original.String(want.BuildID), loaded.String(got.BuildID))
		}
		for id := tracestore.CallsiteID(1); int(id) <= original.Callsites.Len(); id++ {
			assert.Equal(t, original.Callstack(id), loaded.Callstack(id))
		}
	})

	t.Run("exported profiles match", func(t *testing.T) {
		e := exporter.New(nil)
		want, err := e.ExportCPU(ctx, original, exporter.DefaultOptions())
		require.NoError(t, err)
		got, err := e.ExportCPU(ctx, loaded, exporter.DefaultOptions())
		require.NoError(t, err)
		require.Len(t, got, len(want))

		for i := range want {
			assert.Equal(t, want[i].Name, got[i].Name)
			assert.Equal(t,
				testutil.ParseProfile(t, want[i].Data).String(),
				testutil.ParseProfile(t, got[i].Data).String())
		}
	})
}

func TestGormTraceRepository_HighAddresses(t *testing.T) {
	repo := NewGormTraceRepository(setupTestDB(t))
	ctx := context.Background()

	b := testutil.NewTrace()
	m := b.Mapping("[kernel.kallsyms]", "", 0xffffffff81000000, 0xffffffff82000000, 0)
	f := b.Frame("do_syscall_64", m, 0xffffffff81001234)
	b.CPUSample(b.Process(1, "init"), b.Stack(f), 1)

	id, err := repo.SaveTrace(ctx, "kernel", b.Store)
	require.NoError(t, err)

	loaded, err := repo.LoadTrace(ctx, id)
	require.NoError(t, err)

	mapping, _ := loaded.Mapping(m)
	assert.Equal(t, uint64(0xffffffff81000000), mapping.Start)
	frame, _ := loaded.Frame(f)
	assert.Equal(t, uint64(0xffffffff81001234), frame.Address)
}

func TestGormTraceRepository_EmptySymbolSetsSurvive(t *testing.T) {
	repo := NewGormTraceRepository(setupTestDB(t))
	ctx := context.Background()

	s := tracestore.New()
	s.Symbols.NewSet()
	s.Symbols.NewSet()

	id, err := repo.SaveTrace(ctx, "empty", s)
	require.NoError(t, err)

	loaded, err := repo.LoadTrace(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Symbols.Sets())
	assert.Equal(t, tracestore.SymbolSetID(3), loaded.Symbols.NewSet())
}

func TestGormTraceRepository_NotFound(t *testing.T) {
	repo := NewGormTraceRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := repo.LoadTrace(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))

	err = repo.DeleteTrace(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGormTraceRepository_ListAndDelete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormTraceRepository(db)
	ctx := context.Background()

	first, err := repo.SaveTrace(ctx, "first", testutil.AppServerTrace().Store)
	require.NoError(t, err)
	second, err := repo.SaveTrace(ctx, "second", tracestore.New())
	require.NoError(t, err)

	t.Run("newest first", func(t *testing.T) {
		traces, err := repo.ListTraces(ctx, 10)
		require.NoError(t, err)
		require.Len(t, traces, 2)
		assert.Equal(t, second, traces[0].UUID)
		assert.Equal(t, "first", traces[1].Name)
		assert.Equal(t, 2, traces[1].Processes)
		assert.Equal(t, 4, traces[1].PerfSamples)
		assert.Equal(t, 2, traces[1].Allocations)
	})

	t.Run("limit", func(t *testing.T) {
		traces, err := repo.ListTraces(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, traces, 1)
	})

	t.Run("delete removes rows", func(t *testing.T) {
		require.NoError(t, repo.DeleteTrace(ctx, first))

		_, err := repo.LoadTrace(ctx, first)
		assert.True(t, apperrors.IsNotFound(err))

		var frames int64
		require.NoError(t, db.Model(&FrameRecord{}).Where("trace_id = ?", first).Count(&frames).Error)
		assert.Zero(t, frames)
	})
}

func TestGormTraceRepository_SaveNil(t *testing.T) {
	repo := NewGormTraceRepository(setupTestDB(t))

	_, err := repo.SaveTrace(context.Background(), "nil", nil)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestGormTraceRepository_CorruptRows(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormTraceRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&TraceRecord{UUID: "broken"}).Error)
	require.NoError(t, db.Create(&MappingRecord{TraceID: "broken", RowID: 2}).Error)

	_, err := repo.LoadTrace(ctx, "broken")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeStoreError, apperrors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "corrupt mapping rows")
}
