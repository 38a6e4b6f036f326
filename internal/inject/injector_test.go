package inject_test

import (
	"context"
	"testing"
	"time"

	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/grant"
	"github.com/2keychains/2kc/internal/inject"
)

type fakeStore struct {
	values map[string]string // uuid -> value
	refs   map[string]string // ref -> uuid
}

func (f *fakeStore) GetValue(uuid string) (string, error) {
	v, ok := f.values[uuid]
	if !ok {
		return "", brokererr.New(brokererr.NotFound, "no such secret")
	}
	return v, nil
}

func (f *fakeStore) ResolveRef(refOrUUID string) (string, string, error) {
	if v, ok := f.values[refOrUUID]; ok {
		return refOrUUID, v, nil
	}
	if uuid, ok := f.refs[refOrUUID]; ok {
		return uuid, f.values[uuid], nil
	}
	return "", "", brokererr.New(brokererr.NotFound, "no such secret")
}

type fakeMgr struct {
	grants map[string]*grant.Grant
	valid  map[string]bool
	used   []string
}

func (f *fakeMgr) ValidateGrant(id string) bool {
	return f.valid[id]
}

func (f *fakeMgr) GetGrant(id string) (*grant.Grant, bool) {
	g, ok := f.grants[id]
	return g, ok
}

func (f *fakeMgr) MarkUsed(id string) error {
	f.used = append(f.used, id)
	return nil
}

func newGrant(id string, secretUUIDs ...string) *grant.Grant {
	return &grant.Grant{
		ID:          id,
		SecretUUIDs: secretUUIDs,
		GrantedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	}
}

func TestInjectRejectsEmptyCommand(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	mgr := &fakeMgr{valid: map[string]bool{"g1": true}, grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")}}
	inj := inject.New(store, mgr)

	_, err := inj.Inject(context.Background(), "g1", nil, inject.Options{})
	if !brokererr.Is(err, brokererr.EmptyCommand) {
		t.Fatalf("expected EmptyCommand, got %v", err)
	}
}

func TestInjectRejectsInvalidGrant(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	mgr := &fakeMgr{valid: map[string]bool{"g1": false}}
	inj := inject.New(store, mgr)

	_, err := inj.Inject(context.Background(), "g1", []string{"echo", "hi"}, inject.Options{})
	if !brokererr.Is(err, brokererr.GrantNotValid) {
		t.Fatalf("expected GrantNotValid, got %v", err)
	}
}

func TestInjectRejectsMissingGrant(t *testing.T) {
	store := &fakeStore{values: map[string]string{}}
	mgr := &fakeMgr{valid: map[string]bool{"g1": true}, grants: map[string]*grant.Grant{}}
	inj := inject.New(store, mgr)

	_, err := inj.Inject(context.Background(), "g1", []string{"echo", "hi"}, inject.Options{})
	if !brokererr.Is(err, brokererr.GrantNotFound) {
		t.Fatalf("expected GrantNotFound, got %v", err)
	}
}

func TestInjectExplicitEnvVarAndRedaction(t *testing.T) {
	store := &fakeStore{values: map[string]string{"s1": "top-secret-value"}}
	mgr := &fakeMgr{
		valid:  map[string]bool{"g1": true},
		grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")},
	}
	inj := inject.New(store, mgr)

	res, err := inj.Inject(context.Background(), "g1", []string{"sh", "-c", `echo "value is $API_KEY"`}, inject.Options{
		EnvVarName: "API_KEY",
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d, stderr=%s", res.ExitCode, res.Stderr)
	}
	if contains(res.Stdout, "top-secret-value") {
		t.Fatalf("secret leaked into stdout: %q", res.Stdout)
	}
	if !contains(res.Stdout, "[REDACTED]") {
		t.Fatalf("expected redaction marker in stdout: %q", res.Stdout)
	}
	if len(mgr.used) != 1 || mgr.used[0] != "g1" {
		t.Fatalf("expected grant marked used, got %v", mgr.used)
	}
}

func TestInjectPlaceholderResolutionInScope(t *testing.T) {
	store := &fakeStore{
		values: map[string]string{"s1": "db-pass"},
		refs:   map[string]string{"db-prod": "s1"},
	}
	mgr := &fakeMgr{
		valid:  map[string]bool{"g1": true},
		grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")},
	}
	inj := inject.New(store, mgr)

	t.Setenv("DB_PASSWORD", "2k://db-prod")

	res, err := inj.Inject(context.Background(), "g1", []string{"sh", "-c", `echo "pw=$DB_PASSWORD"`}, inject.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if contains(res.Stdout, "db-pass") {
		t.Fatalf("secret leaked into stdout: %q", res.Stdout)
	}
	if !contains(res.Stdout, "[REDACTED]") {
		t.Fatalf("expected placeholder to resolve and then be redacted: %q", res.Stdout)
	}
}

func TestInjectPlaceholderOutOfScope(t *testing.T) {
	store := &fakeStore{
		values: map[string]string{"s1": "db-pass", "s2": "other-secret"},
		refs:   map[string]string{"s2-ref": "s2"},
	}
	mgr := &fakeMgr{
		valid:  map[string]bool{"g1": true},
		grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")}, // grant only covers s1
	}
	inj := inject.New(store, mgr)

	t.Setenv("LEAKY_VAR", "2k://s2-ref")

	_, err := inj.Inject(context.Background(), "g1", []string{"echo", "hi"}, inject.Options{
		Timeout: 5 * time.Second,
	})
	if !brokererr.Is(err, brokererr.PlaceholderOutOfScope) {
		t.Fatalf("expected PlaceholderOutOfScope, got %v", err)
	}
}

func TestInjectTimeout(t *testing.T) {
	store := &fakeStore{values: map[string]string{"s1": "v"}}
	mgr := &fakeMgr{
		valid:  map[string]bool{"g1": true},
		grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")},
	}
	inj := inject.New(store, mgr)

	_, err := inj.Inject(context.Background(), "g1", []string{"sleep", "5"}, inject.Options{
		Timeout: 50 * time.Millisecond,
	})
	if !brokererr.Is(err, brokererr.Timeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestInjectSpawnFailureForMissingBinary(t *testing.T) {
	store := &fakeStore{values: map[string]string{"s1": "v"}}
	mgr := &fakeMgr{
		valid:  map[string]bool{"g1": true},
		grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")},
	}
	inj := inject.New(store, mgr)

	_, err := inj.Inject(context.Background(), "g1", []string{"/no/such/binary-2kc-test"}, inject.Options{
		Timeout: time.Second,
	})
	if !brokererr.Is(err, brokererr.SpawnFailure) {
		t.Fatalf("expected SpawnFailure, got %v", err)
	}
}

func TestInjectMarksUsedEvenOnChildFailure(t *testing.T) {
	store := &fakeStore{values: map[string]string{"s1": "v"}}
	mgr := &fakeMgr{
		valid:  map[string]bool{"g1": true},
		grants: map[string]*grant.Grant{"g1": newGrant("g1", "s1")},
	}
	inj := inject.New(store, mgr)

	res, err := inj.Inject(context.Background(), "g1", []string{"sh", "-c", "exit 3"}, inject.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("inject: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	if len(mgr.used) != 1 {
		t.Fatalf("expected grant marked used despite nonzero exit, got %v", mgr.used)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
