// Package secretstore implements the file-backed mapping from secret id and
// human slug to value and tags. Every mutation reloads the file, applies the
// change, and writes the whole document back under mode 0600.
package secretstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2keychains/2kc/internal/brokererr"
)

var refPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUID reports whether s has the shape of an RFC 4122 UUID string.
func IsUUID(s string) bool { return uuidPattern.MatchString(s) }

// Entry is a secret as persisted on disk. Value is never returned by listing
// or metadata operations.
type Entry struct {
	UUID      string   `json:"uuid"`
	Ref       string   `json:"ref"`
	Value     string   `json:"value"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

// Listing is the value-free projection of an Entry.
type Listing struct {
	UUID string   `json:"uuid"`
	Ref  string   `json:"ref"`
	Tags []string `json:"tags"`
}

type document struct {
	Secrets []Entry `json:"secrets"`
}

// Store is a mutex-serialized, file-backed secret store.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store persisting to path. The file is created lazily on
// first mutation; a missing file reads as an empty store, not corruption.
func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return document{}, nil
	}
	if err != nil {
		return document{}, brokererr.Wrap(brokererr.Corrupted, fmt.Sprintf("reading %s", s.path), err)
	}
	if len(data) == 0 {
		return document{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, brokererr.Wrap(brokererr.Corrupted, fmt.Sprintf("parsing %s", s.path), err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return brokererr.Wrap(brokererr.Corrupted, fmt.Sprintf("creating directory for %s", s.path), err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return brokererr.Wrap(brokererr.Corrupted, "marshaling store document", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return brokererr.Wrap(brokererr.Corrupted, fmt.Sprintf("writing %s", s.path), err)
	}
	return os.Chmod(s.path, 0o600)
}

func validateRef(ref string) error {
	if !refPattern.MatchString(ref) {
		return brokererr.New(brokererr.InvalidInput, fmt.Sprintf("ref %q must match %s", ref, refPattern.String()))
	}
	if IsUUID(ref) {
		return brokererr.New(brokererr.InvalidInput, fmt.Sprintf("ref %q must not itself be a uuid", ref))
	}
	return nil
}

// Add creates a new secret entry and returns its generated uuid.
func (s *Store) Add(ref, value string, tags []string) (string, error) {
	if err := validateRef(ref); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", err
	}
	for _, e := range doc.Secrets {
		if e.Ref == ref {
			return "", brokererr.New(brokererr.DuplicateRef, fmt.Sprintf("ref %q already exists", ref))
		}
	}
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	id := uuid.NewString()
	doc.Secrets = append(doc.Secrets, Entry{
		UUID:      id,
		Ref:       ref,
		Value:     value,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err := s.save(doc); err != nil {
		return "", err
	}
	return id, nil
}

// Remove deletes the entry identified by uuid.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	idx := -1
	for i, e := range doc.Secrets {
		if e.UUID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return brokererr.New(brokererr.NotFound, fmt.Sprintf("secret uuid %q not found", id))
	}
	doc.Secrets = append(doc.Secrets[:idx], doc.Secrets[idx+1:]...)
	return s.save(doc)
}

// List returns every secret's listing projection in insertion order.
func (s *Store) List() ([]Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(doc.Secrets))
	for _, e := range doc.Secrets {
		out = append(out, toListing(e))
	}
	return out, nil
}

func toListing(e Entry) Listing {
	tags := append([]string(nil), e.Tags...)
	sort.Strings(tags)
	return Listing{UUID: e.UUID, Ref: e.Ref, Tags: tags}
}

// GetMetadata returns the listing item for a secret by uuid.
func (s *Store) GetMetadata(id string) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Listing{}, err
	}
	for _, e := range doc.Secrets {
		if e.UUID == id {
			return toListing(e), nil
		}
	}
	return Listing{}, brokererr.New(brokererr.NotFound, fmt.Sprintf("secret uuid %q not found", id))
}

// GetByRef returns the listing item for a secret by human ref.
func (s *Store) GetByRef(ref string) (Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return Listing{}, err
	}
	for _, e := range doc.Secrets {
		if e.Ref == ref {
			return toListing(e), nil
		}
	}
	return Listing{}, brokererr.New(brokererr.NotFound, fmt.Sprintf("secret ref %q not found", ref))
}

// GetValue returns the raw value for a secret by uuid.
func (s *Store) GetValue(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	for _, e := range doc.Secrets {
		if e.UUID == id {
			return e.Value, nil
		}
	}
	return "", brokererr.New(brokererr.NotFound, fmt.Sprintf("secret uuid %q not found", id))
}

// GetValueByRef returns the raw value for a secret by human ref.
func (s *Store) GetValueByRef(ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	for _, e := range doc.Secrets {
		if e.Ref == ref {
			return e.Value, nil
		}
	}
	return "", brokererr.New(brokererr.NotFound, fmt.Sprintf("secret ref %q not found", ref))
}

// Resolve dispatches to uuid or ref lookup depending on the shape of
// refOrUUID and returns the listing item.
func (s *Store) Resolve(refOrUUID string) (Listing, error) {
	if IsUUID(refOrUUID) {
		return s.GetMetadata(refOrUUID)
	}
	return s.GetByRef(refOrUUID)
}

// ResolveRef dispatches like Resolve but returns the uuid and raw value,
// used only by the injector for placeholder substitution.
func (s *Store) ResolveRef(refOrUUID string) (id string, value string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", "", err
	}
	if IsUUID(refOrUUID) {
		for _, e := range doc.Secrets {
			if e.UUID == refOrUUID {
				return e.UUID, e.Value, nil
			}
		}
		return "", "", brokererr.New(brokererr.NotFound, fmt.Sprintf("secret uuid %q not found", refOrUUID))
	}
	for _, e := range doc.Secrets {
		if e.Ref == refOrUUID {
			return e.UUID, e.Value, nil
		}
	}
	return "", "", brokererr.New(brokererr.NotFound, fmt.Sprintf("secret ref %q not found", refOrUUID))
}
