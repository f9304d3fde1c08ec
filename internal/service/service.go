// Package service wires trace persistence, profile export, compression and
// profile sinks together.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/trace-pprof/internal/exporter"
	"github.com/trace-pprof/internal/parser/collapsed"
	"github.com/trace-pprof/internal/repository"
	"github.com/trace-pprof/internal/storage"
	"github.com/trace-pprof/internal/tracestore"
	"github.com/trace-pprof/pkg/compression"
	"github.com/trace-pprof/pkg/config"
	apperrors "github.com/trace-pprof/pkg/errors"
	"github.com/trace-pprof/pkg/telemetry"
	"github.com/trace-pprof/pkg/utils"
	"github.com/trace-pprof/pkg/writer"
)

// Service is the main application service.
type Service struct {
	config *config.Config
	logger utils.Logger
	tracer trace.Tracer

	repos      *repository.Repositories
	traces     repository.TraceRepository
	storage    storage.Storage
	compressor compression.Compressor
	exporter   *exporter.Exporter
}

// New creates a Service. Call Initialize, or WithDependencies, before use.
func New(cfg *config.Config, logger utils.Logger) (*Service, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is nil")
	}
	logger = utils.OrNull(logger)

	compressor, err := compression.NewByName(cfg.Export.Compression)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfigError, "invalid export compression", err)
	}

	return &Service{
		config:     cfg,
		logger:     logger,
		tracer:     telemetry.Tracer(),
		compressor: compressor,
		exporter:   exporter.New(logger.WithField("component", "exporter")),
	}, nil
}

// Initialize connects the database, migrates the schema and opens the
// configured storage.
func (s *Service) Initialize(ctx context.Context) error {
	s.logger.Info("Connecting to database (%s)...", s.config.Database.Type)

	db, err := repository.NewGormDB(&repository.DBConfig{
		Type:     s.config.Database.Type,
		Path:     s.config.Database.Path,
		Host:     s.config.Database.Host,
		Port:     s.config.Database.Port,
		Database: s.config.Database.Database,
		User:     s.config.Database.User,
		Password: s.config.Database.Password,
		MaxConns: s.config.Database.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.repos = repository.NewRepositories(db)
	if err := s.repos.AutoMigrate(ctx); err != nil {
		return err
	}
	s.traces = s.repos.Trace

	s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)
	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	s.storage = store

	s.logger.Info("Service components initialized")
	return nil
}

// WithDependencies injects the trace repository and profile sink. Either may
// be nil: without a repository only in-memory traces can be exported, and
// without a sink profiles are exported but not written.
func (s *Service) WithDependencies(traces repository.TraceRepository, sink storage.Storage) *Service {
	s.traces = traces
	s.storage = sink
	return s
}

// Traces returns the trace repository, or nil.
func (s *Service) Traces() repository.TraceRepository {
	return s.traces
}

// Close releases the database connection and the compressor.
func (s *Service) Close() error {
	compression.Close(s.compressor)
	if s.repos != nil {
		if err := s.repos.Close(); err != nil {
			s.logger.Error("Failed to close database connection: %v", err)
			return err
		}
	}
	return nil
}

// HealthCheck performs a health check on the service.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.repos != nil {
		if err := s.repos.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database health check failed: %w", err)
		}
	}
	return nil
}

// ExportRequest selects what to export.
type ExportRequest struct {
	// TraceID names a stored trace. It also names the output objects.
	TraceID string
	// Store, when set, is exported instead of loading TraceID.
	Store *tracestore.Storage
	Kind  exporter.Kind
	// UPIDs restricts the export to these processes. Empty means all.
	UPIDs []tracestore.UPID
}

// ExportedProfile describes one written profile.
type ExportedProfile struct {
	UPID       tracestore.UPID `json:"upid"`
	PID        int64           `json:"pid"`
	Process    string          `json:"process"`
	Key        string          `json:"key"`
	URL        string          `json:"url,omitempty"`
	Size       int             `json:"size"`
	RawSize    int             `json:"raw_size"`
	Samples    int             `json:"samples"`
	MainBinary string          `json:"main_binary,omitempty"`
	// Data is the compressed profile.
	Data []byte `json:"-"`
}

// ExportResult lists the profiles written for one request.
type ExportResult struct {
	TraceID  string            `json:"trace_id"`
	Kind     exporter.Kind     `json:"kind"`
	Profiles []ExportedProfile `json:"profiles"`
	Duration time.Duration     `json:"-"`
	// ManifestKey is where the result was indexed, empty without a sink.
	ManifestKey string `json:"-"`
}

// ExportTrace exports one profile per process, compresses each with the
// configured compressor and writes it to the sink.
func (s *Service) ExportTrace(ctx context.Context, req ExportRequest) (result *ExportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "service.ExportTrace", trace.WithAttributes(
		attribute.String("trace.id", req.TraceID),
		attribute.String("profile.kind", string(req.Kind)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	if req.TraceID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "trace id is required")
	}
	if req.Kind == "" {
		req.Kind = exporter.KindCPU
	}

	store := req.Store
	if store == nil {
		if s.traces == nil {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "no trace repository configured")
		}
		if store, err = s.traces.LoadTrace(ctx, req.TraceID); err != nil {
			return nil, err
		}
	}

	profiles, err := s.exporter.Export(ctx, req.Kind, store, exporter.Options{
		Workers:  s.config.Export.Workers,
		Validate: s.config.Export.Validate,
		UPIDs:    req.UPIDs,
	})
	if err != nil {
		return nil, err
	}

	result = &ExportResult{TraceID: req.TraceID, Kind: req.Kind}
	for _, p := range profiles {
		out, err := s.write(ctx, req.TraceID, p)
		if err != nil {
			return nil, err
		}
		result.Profiles = append(result.Profiles, out)
	}
	if s.storage != nil {
		key := storage.ManifestKey(s.config.Storage.Prefix, req.TraceID, string(req.Kind))
		if _, err := writer.NewPrettyJSONWriter[*ExportResult]().Put(ctx, s.storage, key, result); err != nil {
			return nil, fmt.Errorf("failed to store manifest: %w", err)
		}
		result.ManifestKey = key
	}
	result.Duration = time.Since(start)

	span.SetAttributes(attribute.Int("profile.count", len(result.Profiles)))
	s.logger.WithFields(map[string]interface{}{
		"trace": req.TraceID,
		"kind":  req.Kind,
	}).Info("Exported %d profiles in %v", len(result.Profiles), result.Duration)
	return result, nil
}

func (s *Service) write(ctx context.Context, traceID string, p exporter.Profile) (ExportedProfile, error) {
	data, err := s.compressor.Compress(p.Data)
	if err != nil {
		return ExportedProfile{}, apperrors.Wrap(apperrors.CodeExportError, "failed to compress profile", err)
	}

	prefix := s.config.Storage.Prefix
	key := storage.ProfileKey(prefix, traceID, string(p.Kind), uint32(p.UPID), p.PID, s.compressor.Extension())
	out := ExportedProfile{
		UPID:       p.UPID,
		PID:        p.PID,
		Process:    p.Name,
		Key:        key,
		Size:       len(data),
		RawSize:    len(p.Data),
		Samples:    p.Stats.Samples,
		MainBinary: p.MainBinary,
		Data:       data,
	}

	if s.storage != nil {
		if err := s.storage.Put(ctx, key, bytes.NewReader(data)); err != nil {
			return ExportedProfile{}, fmt.Errorf("failed to store %s: %w", key, err)
		}
		out.URL = s.storage.URL(key)
	}
	return out, nil
}

// ConvertResult reports a folded stack conversion.
type ConvertResult struct {
	// TraceID is the id the imported trace was saved under, or the name when
	// no repository is configured.
	TraceID string
	Import  *collapsed.Result
	Export  *ExportResult
}

// ConvertCollapsed imports folded stacks, saves the trace when a repository
// is configured, and exports one CPU profile per process.
func (s *Service) ConvertCollapsed(ctx context.Context, r io.Reader, name string, opts collapsed.Options) (result *ConvertResult, err error) {
	ctx, span := s.tracer.Start(ctx, "service.ConvertCollapsed", trace.WithAttributes(
		attribute.String("trace.name", name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if name == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "trace name is required")
	}

	store := tracestore.New()
	imported, err := collapsed.NewImporter(store, opts, s.logger.WithField("component", "collapsed")).Import(ctx, r)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Imported %d samples from %d lines (%d skipped)", imported.Samples, imported.Lines, imported.Skipped)

	traceID := name
	if s.traces != nil {
		if traceID, err = s.traces.SaveTrace(ctx, name, store); err != nil {
			return nil, err
		}
	}

	exported, err := s.ExportTrace(ctx, ExportRequest{TraceID: traceID, Store: store, Kind: exporter.KindCPU})
	if err != nil {
		return nil, err
	}

	return &ConvertResult{TraceID: traceID, Import: imported, Export: exported}, nil
}
