package logger

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	l, err := New("test-service", "info")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New("test-service", "not-a-level")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if tid := TraceID(ctx); tid != "" {
		t.Errorf("expected empty trace id, got %q", tid)
	}

	ctx = WithTraceID(ctx, "test-trace-123")
	if tid := TraceID(ctx); tid != "test-trace-123" {
		t.Errorf("expected 'test-trace-123', got %q", tid)
	}
}

func TestGenerateTraceID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 123456789, time.UTC)
	tid := GenerateTraceID("NIFTY50", ts)

	if tid == "" {
		t.Fatal("expected non-empty trace id")
	}
	if !strings.HasPrefix(tid, "NIFTY50-") {
		t.Errorf("expected trace id to start with 'NIFTY50-', got %s", tid)
	}
	if !strings.Contains(tid, "123456789") {
		t.Errorf("expected trace id to contain nanoseconds, got %s", tid)
	}
}

func TestFields(t *testing.T) {
	ctx := context.Background()

	if fields := Fields(ctx); fields != nil {
		t.Errorf("expected nil fields when no trace id, got %v", fields)
	}

	ctx = WithTraceID(ctx, "abc-123")
	fields := Fields(ctx)
	if len(fields) == 0 {
		t.Fatal("expected non-empty fields with trace id set")
	}
}
