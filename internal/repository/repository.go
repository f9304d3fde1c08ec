// Package repository persists traces in a relational database.
package repository

import (
	"context"
	"time"

	"github.com/trace-pprof/internal/tracestore"
)

// TraceSummary describes a stored trace without loading its tables.
type TraceSummary struct {
	UUID        string
	Name        string
	Processes   int
	PerfSamples int
	Allocations int
	CreatedAt   time.Time
}

// TraceRepository defines the interface for trace persistence.
type TraceRepository interface {
	// SaveTrace stores every table of store and returns the new trace UUID.
	SaveTrace(ctx context.Context, name string, store *tracestore.Storage) (string, error)

	// LoadTrace rebuilds the storage of a trace. Row ids match the saved ones.
	LoadTrace(ctx context.Context, uuid string) (*tracestore.Storage, error)

	// ListTraces returns the most recent traces first.
	ListTraces(ctx context.Context, limit int) ([]TraceSummary, error)

	// DeleteTrace removes a trace and all its rows.
	DeleteTrace(ctx context.Context, uuid string) error
}
