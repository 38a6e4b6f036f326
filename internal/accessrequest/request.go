// Package accessrequest implements the access-request value object and its
// append-only in-memory log.
package accessrequest

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2keychains/2kc/internal/brokererr"
)

// Status is the terminal or pending state of a Request.
type Status string

const (
	StatusPending Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusTimeout  Status = "timeout"
	StatusExpired  Status = "expired"
)

const (
	MinDurationSeconds     = 30
	MaxDurationSeconds     = 3600
	DefaultDurationSeconds = 300
)

// Request is an attempt to access one or more secrets.
type Request struct {
	ID              string
	SecretUUIDs     []string
	Reason          string
	TaskRef         string
	DurationSeconds int
	RequestedAt     time.Time
	Status          Status
}

// Create validates inputs and returns a new pending Request. durationSeconds
// of 0 means "use the default".
func Create(secretUUIDs []string, reason, taskRef string, durationSeconds int) (*Request, error) {
	if len(secretUUIDs) == 0 {
		return nil, brokererr.New(brokererr.InvalidInput, "secretUuids must be non-empty")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, brokererr.New(brokererr.InvalidInput, "reason must not be empty")
	}
	taskRef = strings.TrimSpace(taskRef)
	if taskRef == "" {
		return nil, brokererr.New(brokererr.InvalidInput, "taskRef must not be empty")
	}
	if durationSeconds == 0 {
		durationSeconds = DefaultDurationSeconds
	}
	if durationSeconds < MinDurationSeconds {
		return nil, brokererr.New(brokererr.InvalidInput, fmt.Sprintf("durationSeconds must be >= %d", MinDurationSeconds))
	}
	if durationSeconds > MaxDurationSeconds {
		return nil, brokererr.New(brokererr.InvalidInput, fmt.Sprintf("durationSeconds must be <= %d", MaxDurationSeconds))
	}

	seen := make(map[string]bool, len(secretUUIDs))
	deduped := make([]string, 0, len(secretUUIDs))
	for _, id := range secretUUIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}

	return &Request{
		ID:              uuid.NewString(),
		SecretUUIDs:     deduped,
		Reason:          reason,
		TaskRef:         taskRef,
		DurationSeconds: durationSeconds,
		RequestedAt:     time.Now().UTC(),
		Status:          StatusPending,
	}, nil
}

// Log is an append-only, concurrency-safe record of requests.
type Log struct {
	mu       sync.RWMutex
	requests []*Request
}

// NewLog returns an empty request log.
func NewLog() *Log {
	return &Log{}
}

// Append records a request. The log never mutates requests it holds; callers
// own mutation of Status.
func (l *Log) Append(r *Request) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, r)
}

// All returns a snapshot copy of the log's contents, in append order.
func (l *Log) All() []*Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Request, len(l.requests))
	copy(out, l.requests)
	return out
}

// Get looks up a request by id.
func (l *Log) Get(id string) (*Request, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, r := range l.requests {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// FilterBySecret returns every request whose SecretUUIDs contains id.
func (l *Log) FilterBySecret(id string) []*Request {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Request
	for _, r := range l.requests {
		for _, s := range r.SecretUUIDs {
			if s == id {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
