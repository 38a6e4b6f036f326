package audit_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/2keychains/2kc/internal/audit"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := audit.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	if err := sink.Write(ctx, audit.Event{Timestamp: "2026-08-01T00:00:00Z", RequestID: "r1", EventName: "Request created", Details: "d1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(ctx, audit.Event{Timestamp: "2026-08-01T00:00:01Z", RequestID: "r1", EventName: "Approval approved"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := sink.Write(ctx, audit.Event{Timestamp: "2026-08-01T00:00:02Z", RequestID: "r2", EventName: "Request created"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	events, err := sink.ListByRequest(ctx, "r1")
	if err != nil {
		t.Fatalf("list by request: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events for r1, got %d", len(events))
	}
	if events[0].EventName != "Request created" || events[1].EventName != "Approval approved" {
		t.Fatalf("expected events in insertion order, got %+v", events)
	}

	recent, err := sink.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent events, got %d", len(recent))
	}
}

func TestStderrSinkNeverFails(t *testing.T) {
	sink := audit.StderrSink{}
	ctx := context.Background()
	if err := sink.Write(ctx, audit.Event{RequestID: "r1", EventName: "whatever"}); err != nil {
		t.Fatalf("stderr sink write should never fail: %v", err)
	}
	if events, err := sink.ListByRequest(ctx, "r1"); err != nil || events != nil {
		t.Fatalf("expected nil, nil, got %v, %v", events, err)
	}
}

func TestOpenFallsBackOnBadPath(t *testing.T) {
	sink := audit.Open(filepath.Join(t.TempDir(), "nonexistent-dir", "audit.db"))
	if _, ok := sink.(audit.StderrSink); !ok {
		t.Fatalf("expected fallback to StderrSink for an unopenable path")
	}
}
