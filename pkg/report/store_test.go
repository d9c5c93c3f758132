package report

import (
	"context"
	"path/filepath"
	"testing"

	"traceguard/pkg/eval"
)

func TestStoreRecordAndQuery(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "report.db")
	s, err := Open(Config{DSN: dsn})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	result := eval.AnalysisResult{
		Errors: []eval.Violation{
			{Kind: "PolicyViolation", Message: "leaked PII", RuleSpan: "policy.sec:2:1", RuleIndex: 0},
		},
		HandledErrors: []eval.Violation{
			{Kind: "AccessControlViolation", Message: "handled", RuleSpan: "policy.sec:5:1", RuleIndex: 1},
		},
	}
	if err := s.Record(context.Background(), "inbox-policy", result); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := s.Query(context.Background(), QueryOptions{PolicyName: "inbox-policy"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d records, want 2", len(all))
	}

	unhandled := false
	wantUnhandled := false
	handled, err := s.Query(context.Background(), QueryOptions{PolicyName: "inbox-policy", Handled: &wantUnhandled})
	if err != nil {
		t.Fatalf("Query handled=false: %v", err)
	}
	for _, r := range handled {
		if r.Kind != "PolicyViolation" {
			t.Fatalf("unexpected kind in unhandled filter: %s", r.Kind)
		}
		unhandled = true
	}
	if !unhandled {
		t.Fatalf("expected at least one unhandled record")
	}
}
