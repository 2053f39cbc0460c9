// Package app assembles a seedqc Service from configuration: record store,
// audit archive, metrics and logging.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"seedqc/internal/config"
	"seedqc/internal/core"
	"seedqc/internal/infra/archive"
	archivefs "seedqc/internal/infra/archive/fs"
	archivemem "seedqc/internal/infra/archive/memory"
	archives3 "seedqc/internal/infra/archive/s3"
	"seedqc/pkg/logger"
)

// App holds a wired service and the resources that must be released with it.
type App struct {
	Service  *core.Service
	Store    core.PersistentStore
	Archive  archive.Store
	Registry *prometheus.Registry
	Expvar   *core.ExpvarMetricsRecorder
	// Trace is nil unless a trace file is configured.
	Trace    *core.TraceLog
	Logger   *zap.Logger

	traceFile *os.File
}

// Build opens the configured backends and constructs the service.
func Build(ctx context.Context, cfg *config.Config, base *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if base == nil {
		base = zap.NewNop()
	}
	kinds, err := cfg.KindRegistry()
	if err != nil {
		return nil, err
	}

	store, err := core.OpenPersistentStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
		MongoURI:    cfg.Storage.MongoURI,
		MongoDB:     cfg.Storage.MongoDB,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	serviceLog := core.NewZapLogger(logger.Named(base, "core"))
	var sink core.AuditSink = core.LogAuditSink{Logger: core.NewZapLogger(logger.Named(base, "audit"))}
	arch, err := OpenArchive(ctx, cfg.Audit)
	if err != nil {
		_ = closeStore(ctx, store)
		return nil, fmt.Errorf("open audit archive: %w", err)
	}
	if arch != nil {
		sink = core.MultiAuditSink{sink, core.NewArchiveAuditSink(arch)}
	}

	registry := prometheus.NewRegistry()
	promRec, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		_ = closeStore(ctx, store)
		return nil, err
	}
	expvarRec := core.NewExpvarMetricsRecorder("")

	opts := []core.ServiceOption{
		core.WithKinds(kinds),
		core.WithRoleChecker(core.NewRoleSet(cfg.Roles.Privileged...)),
		core.WithReapprovalRoles(cfg.Roles.Reapproval...),
		core.WithLogger(serviceLog),
		core.WithAuditSink(sink),
		core.WithMetricsRecorder(core.MultiMetricsRecorder{promRec, expvarRec}),
	}
	var (
		trace     *core.TraceLog
		traceFile *os.File
	)
	if cfg.Trace.File != "" {
		traceFile, err = os.OpenFile(cfg.Trace.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			_ = closeStore(ctx, store)
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		trace = core.NewTraceLog(traceFile)
		opts = append(opts, core.WithTracer(trace))
	}

	svc := core.NewService(store, opts...)
	base.Info("service ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("audit", cfg.Audit.Driver),
		zap.Bool("tracing", trace != nil),
	)
	return &App{
		Service:   svc,
		Store:     store,
		Archive:   arch,
		Registry:  registry,
		Expvar:    expvarRec,
		Trace:     trace,
		Logger:    base,
		traceFile: traceFile,
	}, nil
}

// OpenArchive returns the archive for the audit driver, or nil when audit
// entries only go to the log.
func OpenArchive(ctx context.Context, cfg config.AuditConfig) (archive.Store, error) {
	switch cfg.Driver {
	case "", config.AuditLog:
		return nil, nil
	case config.AuditMemory:
		return archivemem.New(), nil
	case config.AuditFS:
		return archivefs.New(cfg.FSRoot)
	case config.AuditS3:
		return archives3.New(ctx, archives3.Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown audit driver %s", cfg.Driver)
	}
}

// Close releases the record store and the trace file.
func (a *App) Close(ctx context.Context) error {
	err := closeStore(ctx, a.Store)
	if a.traceFile != nil {
		err = errors.Join(err, a.traceFile.Close())
	}
	return err
}

func closeStore(ctx context.Context, store core.PersistentStore) error {
	switch s := store.(type) {
	case interface{ Close(context.Context) error }:
		return s.Close(ctx)
	case interface{ Close() error }:
		return s.Close()
	}
	return nil
}
