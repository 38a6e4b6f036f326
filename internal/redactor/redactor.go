// Package redactor implements a streaming byte-stream transform that
// replaces secret literals with a fixed placeholder, tolerating secrets that
// straddle chunk boundaries. It is the streaming counterpart to
// common/redact's whole-string scrubbing, used by the injector to scrub a
// child process's piped output as it is produced.
package redactor

import (
	"io"
	"regexp"
	"sort"
	"strings"
)

// Placeholder matches common/redact's placeholder so a secret looks the same
// whether it was caught in a log line or in injected child output.
const Placeholder = "[REDACTED]"

// Writer wraps dst, replacing every occurrence of the configured secrets
// with Placeholder before forwarding bytes downstream. Overlapping matches
// prefer the longer one, then the earlier start. A Writer is not safe for
// concurrent use and is meant to back exactly one stream.
type Writer struct {
	dst     io.Writer
	pattern *regexp.Regexp
	maxLen  int
	pending []byte
}

// New returns a Writer over dst that redacts occurrences of secrets. Empty
// strings are dropped from the set. If no non-empty secrets remain, Write is
// the identity transform.
func New(dst io.Writer, secrets []string) *Writer {
	w := &Writer{dst: dst}

	var literals []string
	for _, s := range secrets {
		if s == "" {
			continue
		}
		literals = append(literals, s)
		if len(s) > w.maxLen {
			w.maxLen = len(s)
		}
	}
	if len(literals) == 0 {
		return w
	}

	// Longest-first so the alternation itself prefers the longer match on
	// ties at the same start position (Go's regexp/RE2 picks the leftmost
	// alternative that matches at the leftmost-earliest position, so we
	// also need overlap resolution below for cases RE2 can't express).
	sort.Slice(literals, func(i, j int) bool { return len(literals[i]) > len(literals[j]) })

	escaped := make([]string, len(literals))
	for i, s := range literals {
		escaped[i] = regexp.QuoteMeta(s)
	}
	w.pattern = regexp.MustCompile(strings.Join(escaped, "|"))
	return w
}

// Write implements io.Writer. It buffers a tail of up to maxSecretLen-1
// bytes so a secret split across calls is still recognized, emitting
// everything else immediately (redacted).
func (w *Writer) Write(p []byte) (int, error) {
	n := len(p)
	if w.pattern == nil {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return n, nil
	}

	w.pending = append(w.pending, p...)
	h := w.maxLen - 1
	if h < 0 {
		h = 0
	}
	if len(w.pending) <= h {
		return n, nil
	}

	emitUpTo := w.emitBoundary(h)
	if emitUpTo > 0 {
		out := w.redact(w.pending[:emitUpTo])
		if _, err := w.dst.Write(out); err != nil {
			return 0, err
		}
		w.pending = w.pending[emitUpTo:]
	}
	return n, nil
}

// emitBoundary returns how many bytes of pending may be safely emitted,
// given that the last h bytes must be retained to catch a straddling match.
// A match that starts before len(pending)-h but extends past it is emitted
// in full, advancing the boundary.
func (w *Writer) emitBoundary(h int) int {
	boundary := len(w.pending) - h
	if boundary <= 0 {
		return 0
	}
	for _, loc := range w.pattern.FindAllIndex(w.pending, -1) {
		start, end := loc[0], loc[1]
		if start < boundary && end > boundary {
			boundary = end
		}
	}
	if boundary > len(w.pending) {
		boundary = len(w.pending)
	}
	return boundary
}

// redact replaces every match in data with Placeholder, resolving
// overlapping matches by preferring the longest, then the earliest start.
func (w *Writer) redact(data []byte) []byte {
	matches := w.pattern.FindAllIndex(data, -1)
	if len(matches) == 0 {
		return data
	}
	kept := selectNonOverlapping(matches)

	var out []byte
	last := 0
	for _, m := range kept {
		out = append(out, data[last:m[0]]...)
		out = append(out, Placeholder...)
		last = m[1]
	}
	out = append(out, data[last:]...)
	return out
}

// selectNonOverlapping resolves overlapping match spans, preferring the
// longer span, then the earlier start, and returns the surviving spans in
// input order.
func selectNonOverlapping(matches [][]int) [][]int {
	sorted := append([][]int(nil), matches...)
	sort.Slice(sorted, func(i, j int) bool {
		li, lj := sorted[i][1]-sorted[i][0], sorted[j][1]-sorted[j][0]
		if li != lj {
			return li > lj
		}
		return sorted[i][0] < sorted[j][0]
	})

	var kept [][]int
	for _, m := range sorted {
		overlaps := false
		for _, k := range kept {
			if m[0] < k[1] && k[0] < m[1] {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i][0] < kept[j][0] })
	return kept
}

// Close flushes and redacts any remaining tail bytes. It is safe to call
// Close exactly once after the last Write.
func (w *Writer) Close() error {
	if len(w.pending) == 0 {
		return nil
	}
	out := w.pending
	if w.pattern != nil {
		out = w.redact(w.pending)
	}
	w.pending = nil
	_, err := w.dst.Write(out)
	return err
}
