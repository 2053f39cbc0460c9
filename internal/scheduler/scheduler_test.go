package scheduler

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"seedqc/internal/core"
	"seedqc/pkg/domain"
)

type failingSource struct{}

func (failingSource) Dashboard(context.Context) (core.DashboardSummary, error) {
	return core.DashboardSummary{}, errors.New("store offline")
}

func TestRunOnceLogsDashboard(t *testing.T) {
	svc := core.NewInMemoryService(nil)
	if _, _, err := svc.Create(context.Background(), domain.Actor{ID: "a", Role: domain.RoleAnalyst}, domain.KindPurity, core.CreateInput{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	obs, logs := observer.New(zapcore.InfoLevel)
	s := NewScheduler("@every 1h", svc, zap.New(obs))
	s.RunOnce()

	perKind := logs.FilterMessage("dashboard kind").All()
	if len(perKind) != len(domain.Kinds()) {
		t.Fatalf("expected one line per kind, got %d", len(perKind))
	}
	if perKind[0].ContextMap()["kind"] != "germination" {
		t.Fatalf("kinds should be logged in name order, got %v", perKind[0].ContextMap()["kind"])
	}
	total := logs.FilterMessage("dashboard").All()
	if len(total) != 1 || total[0].ContextMap()["total"] != int64(1) {
		t.Fatalf("unexpected total line %+v", total)
	}
}

func TestRunOnceLogsFailure(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	NewScheduler("@every 1h", failingSource{}, zap.New(obs)).RunOnce()
	if logs.FilterMessage("failed to build dashboard").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := NewScheduler("not a cron", failingSource{}, nil)
	if err := s.Start(); err == nil {
		t.Fatalf("expected invalid spec to fail")
	}
	good := NewScheduler("@every 1h", failingSource{}, nil)
	if err := good.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	good.Stop()
}
