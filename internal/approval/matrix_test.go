package approval

import "testing"

func TestParseDecisionApprove(t *testing.T) {
	v, ok := parseDecision("approve req-123")
	if !ok || v != VerdictApproved {
		t.Fatalf("got %v %v", v, ok)
	}
}

func TestParseDecisionDeny(t *testing.T) {
	v, ok := parseDecision("deny req-123 too risky")
	if !ok || v != VerdictDenied {
		t.Fatalf("got %v %v", v, ok)
	}
}

func TestParseDecisionIgnoresUnrelatedText(t *testing.T) {
	if _, ok := parseDecision("hello there"); ok {
		t.Fatalf("expected no match")
	}
}

func TestParseDecisionCaseInsensitive(t *testing.T) {
	v, ok := parseDecision("APPROVE req-123")
	if !ok || v != VerdictApproved {
		t.Fatalf("got %v %v", v, ok)
	}
}
