// Package exporter turns the samples of a trace into one pprof profile per
// process.
package exporter

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/pprof/profile"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trace-pprof/internal/profilebuilder"
	"github.com/trace-pprof/internal/tracestore"
	apperrors "github.com/trace-pprof/pkg/errors"
	"github.com/trace-pprof/pkg/parallel"
	"github.com/trace-pprof/pkg/telemetry"
	"github.com/trace-pprof/pkg/utils"
)

// Kind selects which sample table is exported.
type Kind string

const (
	KindCPU  Kind = "cpu"
	KindHeap Kind = "heap"
)

// ParseKind parses "cpu" or "heap", case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindCPU:
		return KindCPU, nil
	case KindHeap:
		return KindHeap, nil
	default:
		return "", apperrors.Newf(apperrors.CodeInvalidInput, "unknown profile kind %q", s)
	}
}

// SampleTypes returns the value columns of profiles of this kind.
func (k Kind) SampleTypes() []profilebuilder.SampleType {
	if k == KindHeap {
		return []profilebuilder.SampleType{
			{Type: "alloc_objects", Unit: "count"},
			{Type: "alloc_space", Unit: "bytes"},
		}
	}
	return []profilebuilder.SampleType{{Type: "samples", Unit: "count"}}
}

// Options controls an export.
type Options struct {
	// Workers caps how many processes are built concurrently.
	Workers int
	// Validate re-parses every produced profile.
	Validate bool
	// UPIDs restricts the export to these processes. Empty means all.
	UPIDs []tracestore.UPID
	// Scorer overrides the main binary heuristic.
	Scorer profilebuilder.ScoreFunc
}

// DefaultOptions validates output and uses the default worker count.
func DefaultOptions() Options {
	return Options{Validate: true}
}

// Profile is the serialized profile of one process.
type Profile struct {
	UPID  tracestore.UPID
	PID   int64
	Name  string
	Kind  Kind
	Data  []byte
	Stats profilebuilder.Stats
	// MainBinary is the file name of the mapping chosen as main binary.
	MainBinary string
}

type row struct {
	callsite tracestore.CallsiteID
	values   []int64
}

type job struct {
	upid tracestore.UPID
	rows []row
}

// Exporter builds per-process profiles from a trace.
type Exporter struct {
	logger utils.Logger
	tracer trace.Tracer
}

// New creates an Exporter.
func New(logger utils.Logger) *Exporter {
	return &Exporter{
		logger: utils.OrNull(logger),
		tracer: telemetry.Tracer(),
	}
}

// ExportCPU exports one profile per process from the perf sample table. Each
// sample contributes a value of 1.
func (e *Exporter) ExportCPU(ctx context.Context, store *tracestore.Storage, opts Options) ([]Profile, error) {
	return e.Export(ctx, KindCPU, store, opts)
}

// ExportHeap exports one profile per process from the allocation table with
// values [count, size] per allocation.
func (e *Exporter) ExportHeap(ctx context.Context, store *tracestore.Storage, opts Options) ([]Profile, error) {
	return e.Export(ctx, KindHeap, store, opts)
}

// Export builds one profile per process that has rows of the given kind.
// Processes are built concurrently, each with its own builder. The result is
// ordered by UPID.
func (e *Exporter) Export(ctx context.Context, kind Kind, store *tracestore.Storage, opts Options) ([]Profile, error) {
	ctx, span := e.tracer.Start(ctx, "exporter.Export",
		trace.WithAttributes(attribute.String("profile.kind", string(kind))))
	defer span.End()

	if store == nil {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "trace store is nil")
	}

	jobs, err := e.jobs(kind, store, opts.UPIDs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	startTime := time.Now()
	logger := e.logger.WithField("kind", kind)
	logger.Debug("exporting %d processes", len(jobs))

	pool := parallel.DefaultPoolConfig()
	if opts.Workers > 0 {
		pool = pool.WithWorkers(opts.Workers)
	}

	profiles, err := parallel.Map(ctx, jobs, pool, func(ctx context.Context, j job) (Profile, error) {
		return e.build(kind, store, j, opts)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("profile.count", len(profiles)))
	logger.Info("exported %d profiles in %v", len(profiles), time.Since(startTime))
	return profiles, nil
}

func (e *Exporter) jobs(kind Kind, store *tracestore.Storage, only []tracestore.UPID) ([]job, error) {
	var groups map[tracestore.UPID][]row
	switch kind {
	case KindCPU:
		groups = lo.MapValues(
			lo.GroupBy(store.PerfSamples.All(), func(s tracestore.PerfSample) tracestore.UPID { return s.UPID }),
			func(samples []tracestore.PerfSample, _ tracestore.UPID) []row {
				return lo.Map(samples, func(s tracestore.PerfSample, _ int) row {
					return row{callsite: s.Callsite, values: []int64{1}}
				})
			})
	case KindHeap:
		groups = lo.MapValues(
			lo.GroupBy(store.Allocations.All(), func(a tracestore.Allocation) tracestore.UPID { return a.UPID }),
			func(allocs []tracestore.Allocation, _ tracestore.UPID) []row {
				return lo.Map(allocs, func(a tracestore.Allocation, _ int) row {
					return row{callsite: a.Callsite, values: []int64{a.Count, a.Size}}
				})
			})
	default:
		return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown profile kind %q", kind)
	}

	upids := lo.Keys(groups)
	if len(only) > 0 {
		upids = lo.Filter(upids, func(upid tracestore.UPID, _ int) bool {
			return slices.Contains(only, upid)
		})
	}
	slices.Sort(upids)

	return lo.Map(upids, func(upid tracestore.UPID, _ int) job {
		return job{upid: upid, rows: groups[upid]}
	}), nil
}

func (e *Exporter) build(kind Kind, store *tracestore.Storage, j job, opts Options) (Profile, error) {
	var builderOpts []profilebuilder.Option
	if opts.Scorer != nil {
		builderOpts = append(builderOpts, profilebuilder.WithMainBinaryScorer(opts.Scorer))
	}

	b := profilebuilder.New(store, kind.SampleTypes(), builderOpts...)
	for _, r := range j.rows {
		b.AddSample(r.callsite, r.values)
	}
	data := b.Build()

	out := Profile{
		UPID:  j.upid,
		Kind:  kind,
		Data:  data,
		Stats: b.Stats(),
	}
	if proc, ok := store.Processes.Row(j.upid); ok {
		out.PID = proc.PID
		out.Name = store.String(proc.Name)
	}

	if name, ok := b.MainBinaryFilename(); ok {
		out.MainBinary = name
	}

	if opts.Validate {
		if _, err := profile.ParseData(data); err != nil {
			return Profile{}, apperrors.Wrap(apperrors.CodeExportError,
				fmt.Sprintf("profile for upid %d is invalid", j.upid), err)
		}
	}

	e.logger.WithFields(map[string]interface{}{
		"upid":    j.upid,
		"pid":     out.PID,
		"samples": out.Stats.Samples,
	}).Debug("built %d byte profile", len(data))
	return out, nil
}
