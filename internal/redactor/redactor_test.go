package redactor_test

import (
	"bytes"
	"testing"

	"github.com/2keychains/2kc/internal/redactor"
)

func redactAll(secrets []string, chunks ...string) string {
	var buf bytes.Buffer
	w := redactor.New(&buf, secrets)
	for _, c := range chunks {
		_, _ = w.Write([]byte(c))
	}
	_ = w.Close()
	return buf.String()
}

func TestIdentityWhenNoSecrets(t *testing.T) {
	got := redactAll(nil, "hello world")
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestIdempotentOnNonMatchingInput(t *testing.T) {
	got := redactAll([]string{"super-secret-value"}, "nothing to see here")
	if got != "nothing to see here" {
		t.Fatalf("got %q", got)
	}
}

func TestLongestMatchWins(t *testing.T) {
	got := redactAll([]string{"pass", "password"}, "my password is set")
	want := "my [REDACTED] is set"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestChunkBoundarySplit(t *testing.T) {
	got := redactAll([]string{"super-secret-value"}, "begin super-sec", "ret-value end")
	want := "begin [REDACTED] end"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestChunkInvarianceAcrossPartitions(t *testing.T) {
	secrets := []string{"abc123secret"}
	whole := redactAll(secrets, "prefix-abc123secret-suffix")

	partitions := [][]string{
		{"prefix-abc123secret-suffix"},
		{"prefix-", "abc123secret-suffix"},
		{"prefix-abc", "123secret-suffix"},
		{"p", "r", "e", "f", "i", "x", "-", "a", "b", "c", "1", "2", "3", "s", "e", "c", "r", "e", "t", "-", "s", "u", "f", "f", "i", "x"},
		{"", "prefix-abc123secret-suffix", ""},
	}
	for i, parts := range partitions {
		got := redactAll(secrets, parts...)
		if got != whole {
			t.Fatalf("partition %d: got %q want %q", i, got, whole)
		}
	}
}

func TestRegexMetacharactersTreatedAsLiterals(t *testing.T) {
	got := redactAll([]string{"a.b*c"}, "value is a.b*c here")
	want := "value is [REDACTED] here"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestEmptySecretsAreDropped(t *testing.T) {
	got := redactAll([]string{"", "tok"}, "a tok b")
	want := "a [REDACTED] b"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestZeroLengthChunksAreTolerated(t *testing.T) {
	got := redactAll([]string{"tok"}, "", "a ", "", "tok b", "")
	want := "a [REDACTED] b"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
