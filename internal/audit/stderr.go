package audit

import (
	"context"
	"fmt"
	"os"
)

// StderrSink is the degraded fallback used when the database cannot be
// opened: writes print a warning to stderr instead of persisting, so a
// broken audit trail never blocks access.
type StderrSink struct{}

func (StderrSink) Write(ctx context.Context, event Event) error {
	fmt.Fprintf(os.Stderr, "[audit] Warning: %s [%s] %s: %s\n", event.Timestamp, event.RequestID, event.EventName, event.Details)
	return nil
}

func (StderrSink) ListByRequest(ctx context.Context, requestID string) ([]Event, error) {
	return nil, nil
}

func (StderrSink) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	return nil, nil
}

// Open tries OpenSQLite at path, falling back to StderrSink with a logged
// warning on failure. Opening is best-effort by design: the main flow must
// never be blocked by a broken audit database.
func Open(path string) Sink {
	sink, err := OpenSQLite(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[audit] Warning: could not open audit database at %s: %v; falling back to stderr\n", path, err)
		return StderrSink{}
	}
	return sink
}
