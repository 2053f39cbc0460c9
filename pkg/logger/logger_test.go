package logger

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	log, err := New("")
	if err != nil {
		t.Fatalf("default level: %v", err)
	}
	if !log.Core().Enabled(zapcore.InfoLevel) || log.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected info level by default")
	}

	debug, err := New("debug")
	if err != nil || !debug.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug level: %v", err)
	}

	if _, err := New("loud"); err == nil {
		t.Fatalf("expected invalid level to fail")
	}
}

func TestNamedAndMust(t *testing.T) {
	if Named(nil, "x") == nil {
		t.Fatalf("nil base must yield a nop logger")
	}
	base := Must(New("warn"))
	if Named(base, "core").Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("child logger should keep the parent level")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Must to panic on error")
		}
	}()
	Must(New("loud"))
}
