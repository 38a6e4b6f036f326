// Package approval defines the human-approval capability abstraction and its
// concrete Discord and Matrix channel variants.
package approval

import (
	"context"
	"fmt"
	"time"
)

// Verdict is the outcome of a WaitForResponse call.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictDenied   Verdict = "denied"
	VerdictTimeout  Verdict = "timeout"
)

// Summary is the human-readable content posted to the channel for a pending
// request.
type Summary struct {
	RequestID     string
	SecretUUIDs   []string
	SecretRefs    []string
	Requester     string
	Reason        string
	TaskRef       string
	Duration      time.Duration
}

// Text renders the summary the way a human reading the channel expects to
// see it: uuids, requester identity, justification, duration, and slugs.
func (s Summary) Text() string {
	return fmt.Sprintf(
		"Access request %s\nsecrets: %v (%v)\nrequested by: %s\nreason: %s\ntask: %s\nduration: %s",
		s.RequestID, s.SecretRefs, s.SecretUUIDs, s.Requester, s.Reason, s.TaskRef, s.Duration,
	)
}

// Channel is the capability an external notification system must provide.
// Two concrete variants exist: discord.go (webhook + reactions) and
// matrix.go (room + text commands).
type Channel interface {
	// SendApprovalRequest posts summary and returns an opaque message handle
	// that WaitForResponse can later poll against.
	SendApprovalRequest(ctx context.Context, summary Summary) (messageID string, err error)
	// WaitForResponse blocks, polling at a fixed interval, until a verdict
	// is observable or timeout elapses.
	WaitForResponse(ctx context.Context, messageID string, timeout time.Duration) (Verdict, error)
	// SendNotification fire-and-forgets an audit line to the channel.
	SendNotification(ctx context.Context, text string) error
}
