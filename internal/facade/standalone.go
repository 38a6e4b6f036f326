package facade

import (
	"context"
	"sync"
	"time"

	"github.com/2keychains/2kc/common/version"
	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/approval"
	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/grant"
	"github.com/2keychains/2kc/internal/inject"
	"github.com/2keychains/2kc/internal/secretstore"
	"github.com/2keychains/2kc/internal/workflow"
)

// Standalone is the in-process realization of Facade: every call is a
// direct function call into the components below, no network hop.
type Standalone struct {
	store    *secretstore.Store
	requests *accessrequest.Log
	engine   *workflow.Engine
	grants   *grant.Manager
	injector *inject.Injector

	startedAt time.Time
	pid       int

	mu              sync.Mutex
	grantByRequest  map[string]string
	verdictByRequest map[string]approval.Verdict
}

// NewStandalone assembles the in-process facade from its components.
func NewStandalone(store *secretstore.Store, requests *accessrequest.Log, engine *workflow.Engine, grants *grant.Manager, injector *inject.Injector, pid int) *Standalone {
	return &Standalone{
		store:            store,
		requests:         requests,
		engine:           engine,
		grants:           grants,
		injector:         injector,
		startedAt:        time.Now().UTC(),
		pid:              pid,
		grantByRequest:   make(map[string]string),
		verdictByRequest: make(map[string]approval.Verdict),
	}
}

func (s *Standalone) Health(ctx context.Context) (Health, error) {
	return Health{
		Status:  "ok",
		Uptime:  time.Since(s.startedAt).Seconds(),
		PID:     s.pid,
		Version: version.Info(),
	}, nil
}

func (s *Standalone) ListSecrets(ctx context.Context) ([]secretstore.Listing, error) {
	return s.store.List()
}

func (s *Standalone) AddSecret(ctx context.Context, ref, value string, tags []string) (string, error) {
	return s.store.Add(ref, value, tags)
}

func (s *Standalone) RemoveSecret(ctx context.Context, uuid string) error {
	return s.store.Remove(uuid)
}

func (s *Standalone) GetSecretMetadata(ctx context.Context, uuid string) (secretstore.Listing, error) {
	return s.store.GetMetadata(uuid)
}

func (s *Standalone) ResolveSecret(ctx context.Context, refOrUUID string) (secretstore.Listing, error) {
	return s.store.Resolve(refOrUUID)
}

func (s *Standalone) CreateRequest(ctx context.Context, secretUUIDs []string, reason, taskRef string, durationSeconds int) (*accessrequest.Request, error) {
	req, err := accessrequest.Create(secretUUIDs, reason, taskRef, durationSeconds)
	if err != nil {
		return nil, err
	}
	s.requests.Append(req)
	return req, nil
}

// ValidateGrant drives req through the workflow engine and, on approval,
// creates the grant backing a subsequent Inject call for the same request.
func (s *Standalone) ValidateGrant(ctx context.Context, requestID string) (bool, error) {
	req, ok := s.requests.Get(requestID)
	if !ok {
		return false, brokererr.New(brokererr.NotFound, "request not found: "+requestID)
	}

	verdict, err := s.engine.ProcessRequest(ctx, req)
	s.mu.Lock()
	s.verdictByRequest[requestID] = verdict
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if verdict != approval.VerdictApproved {
		return false, nil
	}

	g, err := s.grants.CreateGrant(req)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	s.grantByRequest[requestID] = g.ID
	s.mu.Unlock()
	return true, nil
}

// Verdict returns the last approval verdict observed for requestID, used by
// the orchestrator to render the audit event's detail text.
func (s *Standalone) Verdict(requestID string) (approval.Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verdictByRequest[requestID]
	return v, ok
}

func (s *Standalone) Inject(ctx context.Context, req InjectRequest) (InjectResult, error) {
	s.mu.Lock()
	grantID, ok := s.grantByRequest[req.RequestID]
	s.mu.Unlock()
	if !ok {
		return InjectResult{}, brokererr.New(brokererr.GrantNotFound, "no grant on file for request: "+req.RequestID)
	}

	res, err := s.injector.Inject(ctx, grantID, req.Command, inject.Options{EnvVarName: req.EnvVarName})
	if err != nil {
		return InjectResult{}, err
	}
	return InjectResult{ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}
