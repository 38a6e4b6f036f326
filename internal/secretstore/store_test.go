package secretstore_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2keychains/2kc/internal/brokererr"
	"github.com/2keychains/2kc/internal/secretstore"
)

func newStore(t *testing.T) *secretstore.Store {
	t.Helper()
	dir := t.TempDir()
	return secretstore.New(filepath.Join(dir, "secrets.json"))
}

func TestAddRejectsBadRef(t *testing.T) {
	s := newStore(t)
	if _, err := s.Add("Has_Upper", "v", nil); !brokererr.Is(err, brokererr.InvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	uuidLike := "123e4567-e89b-42d3-a456-426614174000"
	if _, err := s.Add(uuidLike, "v", nil); !brokererr.Is(err, brokererr.InvalidInput) {
		t.Fatalf("expected InvalidInput for uuid-shaped ref, got %v", err)
	}
}

func TestAddDuplicateRef(t *testing.T) {
	s := newStore(t)
	if _, err := s.Add("deploy-key", "v1", []string{"dev"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := s.Add("deploy-key", "v2", nil); !brokererr.Is(err, brokererr.DuplicateRef) {
		t.Fatalf("expected DuplicateRef, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	s := newStore(t)
	id, err := s.Add("deploy-key", "super-secret-value", []string{"dev"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	v, err := s.GetValueByRef("deploy-key")
	if err != nil || v != "super-secret-value" {
		t.Fatalf("GetValueByRef = %q, %v", v, err)
	}
	listing, err := s.Resolve("deploy-key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if listing.UUID != id {
		t.Fatalf("resolve uuid mismatch: got %s want %s", listing.UUID, id)
	}
	v2, err := s.GetValue(listing.UUID)
	if err != nil || v2 != "super-secret-value" {
		t.Fatalf("GetValue = %q, %v", v2, err)
	}
}

func TestListNeverExposesValue(t *testing.T) {
	s := newStore(t)
	if _, err := s.Add("deploy-key", "secret", []string{"dev", "production"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	items, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].Ref != "deploy-key" {
		t.Fatalf("unexpected ref: %s", items[0].Ref)
	}
	raw, err := json.Marshal(items[0])
	if err != nil {
		t.Fatalf("marshal listing: %v", err)
	}
	if strings.Contains(string(raw), `"value"`) {
		t.Fatalf("listing exposes a value key: %s", raw)
	}
}

func TestRemoveNotFound(t *testing.T) {
	s := newStore(t)
	if err := s.Remove("00000000-0000-4000-8000-000000000000"); !brokererr.Is(err, brokererr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolveRefDispatch(t *testing.T) {
	s := newStore(t)
	id, err := s.Add("deploy-key", "v", nil)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	gotID, gotVal, err := s.ResolveRef("deploy-key")
	if err != nil || gotID != id || gotVal != "v" {
		t.Fatalf("ResolveRef(ref) = %q %q %v", gotID, gotVal, err)
	}
	gotID2, gotVal2, err := s.ResolveRef(id)
	if err != nil || gotID2 != id || gotVal2 != "v" {
		t.Fatalf("ResolveRef(uuid) = %q %q %v", gotID2, gotVal2, err)
	}
	if _, _, err := s.ResolveRef("nonexistent-ref"); !brokererr.Is(err, brokererr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestCorruptedFileFailsHard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}
	s := secretstore.New(path)
	if _, err := s.List(); !brokererr.Is(err, brokererr.Corrupted) {
		t.Fatalf("expected Corrupted, got %v", err)
	}
}
