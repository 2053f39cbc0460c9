// Package scheduler periodically logs the record dashboard.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"seedqc/internal/core"
)

// DashboardSource produces the summary that gets logged.
type DashboardSource interface {
	Dashboard(ctx context.Context) (core.DashboardSummary, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron    *cron.Cron
	source  DashboardSource
	spec    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewScheduler creates a scheduler that logs the dashboard on the standard
// five-field cron spec.
func NewScheduler(spec string, source DashboardSource, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		source:  source,
		spec:    spec,
		timeout: time.Minute,
		logger:  logger,
	}
}

// Start registers the dashboard job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler", zap.String("spec", s.spec))
	if _, err := s.cron.AddFunc(s.spec, s.logDashboard); err != nil {
		return fmt.Errorf("schedule dashboard %q: %w", s.spec, err)
	}
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

// RunOnce logs the dashboard immediately.
func (s *Scheduler) RunOnce() {
	s.logDashboard()
}

func (s *Scheduler) logDashboard() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	summary, err := s.source.Dashboard(ctx)
	if err != nil {
		s.logger.Error("failed to build dashboard", zap.Error(err))
		return
	}
	for _, kind := range sortedKinds(summary) {
		ks := summary.Kinds[kind]
		s.logger.Info("dashboard kind",
			zap.String("kind", string(kind)),
			zap.Int("active", ks.Active),
			zap.Int("inactive", ks.Inactive),
			zap.Int("pending_approval", ks.Pending),
			zap.Int("admission_exhausted", ks.Exhausted),
		)
	}
	s.logger.Info("dashboard",
		zap.Int("total", summary.Total),
		zap.Int("pending_approval", summary.Pending),
		zap.Time("generated_at", summary.GeneratedAt),
	)
}

func sortedKinds(summary core.DashboardSummary) []core.Kind {
	kinds := make([]core.Kind, 0, len(summary.Kinds))
	for k := range summary.Kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
