// Package orchestrator drives the end-to-end request → approval → inject
// flow the CLI calls for each access attempt, writing one audit trail entry
// per mutation around a trace id.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/2keychains/2kc/internal/approval"
	"github.com/2keychains/2kc/internal/audit"
	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/facade"
)

// ApprovalNotifier is the subset of approval.Channel the orchestrator uses
// to mirror audit events to the human approval surface. It may be nil.
type ApprovalNotifier interface {
	SendNotification(ctx context.Context, text string) error
}

// Request is the orchestrator's input, assembled by the CLI from flags.
type Request struct {
	SecretUUIDs []string
	Reason      string
	TaskRef     string
	Duration    int
	EnvVarName  string
	Command     []string
}

// Outcome is returned to the CLI for exit-code and stdout/stderr handling.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Orchestrator wires a facade, an audit sink, and an optional notifier.
type Orchestrator struct {
	fc       facade.Facade
	trail    audit.Sink
	notifier ApprovalNotifier
	stderr   io.Writer
}

// New returns an Orchestrator. notifier may be nil when no approval channel
// is configured; stderr defaults to os.Stderr when nil.
func New(fc facade.Facade, trail audit.Sink, notifier ApprovalNotifier, stderr io.Writer) *Orchestrator {
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Orchestrator{fc: fc, trail: trail, notifier: notifier, stderr: stderr}
}

// Run executes the full request → approval → inject sequence for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	traceID := uuid.NewString()

	accessReq, err := o.fc.CreateRequest(ctx, req.SecretUUIDs, req.Reason, req.TaskRef, req.Duration)
	if err != nil {
		return Outcome{ExitCode: 1}, err
	}
	o.emit(ctx, traceID, accessReq.ID, "Request created", fmt.Sprintf("secrets=%v reason=%q task=%q", req.SecretUUIDs, req.Reason, req.TaskRef), "")

	approved, err := o.fc.ValidateGrant(ctx, accessReq.ID)
	verdictDetail := "denied"
	if approved {
		verdictDetail = "approved"
	}
	if vs, ok := o.fc.(interface {
		Verdict(requestID string) (approval.Verdict, bool)
	}); ok {
		if v, found := vs.Verdict(accessReq.ID); found && v != "" {
			verdictDetail = string(v)
		}
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	o.emit(ctx, traceID, accessReq.ID, "Approval "+verdictDetail, "", errMsg)
	if err != nil {
		return Outcome{ExitCode: 1}, err
	}
	if !approved {
		return Outcome{ExitCode: 1}, brokererr.New(brokererr.NotApproved, "request was not approved")
	}

	o.emit(ctx, traceID, accessReq.ID, "Secret injected", fmt.Sprintf("envVar=%q command=%v", req.EnvVarName, req.Command), "")

	result, injectErr := o.fc.Inject(ctx, facade.InjectRequest{
		RequestID:  accessReq.ID,
		EnvVarName: req.EnvVarName,
		Command:    req.Command,
	})

	usedErrMsg := ""
	if injectErr != nil {
		usedErrMsg = injectErr.Error()
	}
	o.emit(ctx, traceID, accessReq.ID, "Grant used", "", usedErrMsg)

	if injectErr != nil {
		return Outcome{ExitCode: 1}, injectErr
	}

	exitCode := result.ExitCode
	if exitCode < 0 {
		exitCode = 1 // signaled/null child exit maps to 1
	}
	return Outcome{ExitCode: exitCode, Stdout: result.Stdout, Stderr: result.Stderr}, nil
}

// emit formats and delivers one audit line to both the notifier and the
// durable trail. Delivery failures are never fatal to the main flow.
func (o *Orchestrator) emit(ctx context.Context, traceID, requestID, event, details, errMsg string) {
	ts := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("[2kc] [%s] [%s] %s", ts, requestID, event)
	if details != "" {
		line += ": " + details
	}

	if o.notifier != nil {
		if err := o.notifier.SendNotification(ctx, line); err != nil {
			fmt.Fprintf(o.stderr, "[audit] Warning: notification delivery failed: %v\n", err)
		}
	}

	if o.trail != nil {
		writeErr := o.trail.Write(ctx, audit.Event{
			Timestamp:    ts,
			TraceID:      traceID,
			RequestID:    requestID,
			EventName:    event,
			Details:      details,
			ErrorMessage: errMsg,
		})
		if writeErr != nil {
			fmt.Fprintf(o.stderr, "[audit] Warning: audit write failed: %v\n", writeErr)
		}
	}
}
