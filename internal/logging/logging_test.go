package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"WARN":    zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"":        zap.InfoLevel,
		"verbose": zap.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextFieldsAreMerged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	SetLogger(zap.New(core).Sugar())
	defer SetLogger(nil)

	ctx := WithFields(context.Background(), SessionFields("s-1")...)
	ctx = WithFields(ctx, "route", "/api/advisor/ws")
	InfowCtx(ctx, "session started", "state", "open")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["session.id"] != "s-1" || fields["route"] != "/api/advisor/ws" || fields["state"] != "open" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestDefaultLoggerIsSafe(t *testing.T) {
	SetLogger(nil)
	Infow("nothing configured", "k", "v")
	if err := Sync(); err != nil {
		t.Fatalf("noop sync returned %v", err)
	}
}
