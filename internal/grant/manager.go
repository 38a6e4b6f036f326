// Package grant implements the in-memory, single-use, time-bound grant
// manager. Its CreateGrant/ValidateGrant/MarkUsed/RevokeGrant/Cleanup operations mirror the
// teacher's kuze token store, re-homed onto a mutex-guarded map because
// grants are specified as in-memory only.
package grant

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2keychains/2kc/internal/accessrequest"
	"github.com/2keychains/2kc/internal/brokererr"
)

// Grant is a time-bound, single-use capability to inject a set of secrets
// into one child process.
type Grant struct {
	ID          string
	RequestID   string
	SecretUUIDs []string
	GrantedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
	RevokedAt   *time.Time
}

func (g *Grant) copy() *Grant {
	c := *g
	c.SecretUUIDs = append([]string(nil), g.SecretUUIDs...)
	if g.RevokedAt != nil {
		t := *g.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

func (g *Grant) valid(now time.Time) bool {
	return !g.Used && g.RevokedAt == nil && !now.After(g.ExpiresAt)
}

// clock abstracts time.Now so tests can simulate expiry without sleeping.
type clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Manager owns the grant map. All operations take a single mutex for the
// duration of their critical section.
type Manager struct {
	mu     sync.Mutex
	grants map[string]*Grant
	clock  clock
}

// NewManager returns an empty grant Manager.
func NewManager() *Manager {
	return &Manager{grants: make(map[string]*Grant), clock: realClock{}}
}

// WithClock overrides the manager's time source. Intended for tests.
func (m *Manager) WithClock(c clock) *Manager {
	m.clock = c
	return m
}

// CreateGrant issues a grant for an approved request.
func (m *Manager) CreateGrant(req *accessrequest.Request) (*Grant, error) {
	if req.Status != accessrequest.StatusApproved {
		return nil, brokererr.New(brokererr.NotApproved, fmt.Sprintf("request %s is not approved", req.ID))
	}

	now := m.clock.Now()
	g := &Grant{
		ID:          uuid.NewString(),
		RequestID:   req.ID,
		SecretUUIDs: append([]string(nil), req.SecretUUIDs...),
		GrantedAt:   now,
		ExpiresAt:   now.Add(time.Duration(req.DurationSeconds) * time.Second),
		Used:        false,
	}

	m.mu.Lock()
	m.grants[g.ID] = g
	m.mu.Unlock()

	return g.copy(), nil
}

// ValidateGrant reports whether id names a grant that is currently valid.
func (m *Manager) ValidateGrant(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return false
	}
	return g.valid(m.clock.Now())
}

// MarkUsed consumes a grant. It fails NotFound if the grant does not exist
// and NotValid if the grant is not currently valid (already used, revoked,
// or expired).
func (m *Manager) MarkUsed(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[id]
	if !ok {
		return brokererr.New(brokererr.NotFound, fmt.Sprintf("grant %q not found", id))
	}
	if !g.valid(m.clock.Now()) {
		return brokererr.New(brokererr.NotValid, fmt.Sprintf("grant %q is not valid", id))
	}
	g.Used = true
	return nil
}

// RevokeGrant marks a grant revoked. Fails NotFound if absent and
// AlreadyRevoked if already revoked.
func (m *Manager) RevokeGrant(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.grants[id]
	if !ok {
		return brokererr.New(brokererr.NotFound, fmt.Sprintf("grant %q not found", id))
	}
	if g.RevokedAt != nil {
		return brokererr.New(brokererr.AlreadyRevoked, fmt.Sprintf("grant %q already revoked", id))
	}
	now := m.clock.Now()
	g.RevokedAt = &now
	return nil
}

// Cleanup removes every grant whose ExpiresAt has passed. Safe on an empty
// manager.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for id, g := range m.grants {
		if now.After(g.ExpiresAt) {
			delete(m.grants, id)
		}
	}
}

// GetGrant returns a deep copy of the grant, so callers cannot mutate
// internal state.
func (m *Manager) GetGrant(id string) (*Grant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, false
	}
	return g.copy(), true
}

// GetGrantSecrets returns a copy of the grant's secret uuid list.
func (m *Manager) GetGrantSecrets(id string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), g.SecretUUIDs...), true
}
