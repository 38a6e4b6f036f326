// Package facade exposes the broker's capability surface behind a single
// interface with two realizations: an in-process one used by the standalone
// CLI, and an HTTP client one used when the CLI talks to a running daemon.
package facade

import (
	"context"

	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/secretstore"
)

// InjectRequest is the input to Inject.
type InjectRequest struct {
	RequestID  string
	EnvVarName string
	Command    []string
}

// InjectResult mirrors inject.Result across the process boundary.
type InjectResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Health reports liveness, the same shape served by GET /health.
type Health struct {
	Status  string  `json:"status"`
	Uptime  float64 `json:"uptime"`
	PID     int     `json:"pid"`
	Version string  `json:"version"`
}

// Facade is the capability surface shared by every caller of the broker,
// whether running in the same process or talking to a daemon over HTTP.
type Facade interface {
	Health(ctx context.Context) (Health, error)

	ListSecrets(ctx context.Context) ([]secretstore.Listing, error)
	AddSecret(ctx context.Context, ref, value string, tags []string) (string, error)
	RemoveSecret(ctx context.Context, uuid string) error
	GetSecretMetadata(ctx context.Context, uuid string) (secretstore.Listing, error)
	ResolveSecret(ctx context.Context, refOrUUID string) (secretstore.Listing, error)

	CreateRequest(ctx context.Context, secretUUIDs []string, reason, taskRef string, durationSeconds int) (*accessrequest.Request, error)
	ValidateGrant(ctx context.Context, requestID string) (bool, error)

	Inject(ctx context.Context, req InjectRequest) (InjectResult, error)
}
