package raftsafety

import (
	"testing"

	"github.com/vzdtic/raftcore/pkg/logstore"
	"github.com/vzdtic/raftcore/pkg/raft"
)

func TestCheckerPassesOnAgreeingNodes(t *testing.T) {
	a, b := logstore.NewMemory(), logstore.NewMemory()
	entries := []raft.LogEntry{
		{Term: 1, Index: 1, Payload: []byte("x")},
		{Term: 1, Index: 2, Payload: []byte("y")},
	}
	_ = a.Append(entries)
	_ = b.Append(entries)

	c := New()
	c.Collect("node-a", a, 2)
	c.Collect("node-b", b, 2)

	ok, violations := c.Check()
	if !ok {
		t.Fatalf("expected no violations, got %+v", violations)
	}
}

func TestCheckerCatchesLogMatchingViolation(t *testing.T) {
	a, b := logstore.NewMemory(), logstore.NewMemory()
	_ = a.Append([]raft.LogEntry{{Term: 1, Index: 1, Payload: []byte("x")}})
	_ = b.Append([]raft.LogEntry{{Term: 2, Index: 1, Payload: []byte("x")}})

	c := New()
	c.Collect("node-a", a, 1)
	c.Collect("node-b", b, 1)

	ok, violations := c.Check()
	if ok {
		t.Fatal("expected a log-matching violation")
	}
	found := false
	for _, v := range violations {
		if v.Kind == "log_matching" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a log_matching violation, got %+v", violations)
	}
}

func TestCheckerCatchesNonMonotonicCommit(t *testing.T) {
	c := New()
	c.committed["node-a"] = []CommittedEntry{
		{Index: 2, Term: 1},
		{Index: 1, Term: 1},
	}
	ok, violations := c.Check()
	if ok {
		t.Fatal("expected a non-monotonic-commit violation")
	}
	if violations[0].Kind != "non_monotonic_commit" {
		t.Fatalf("expected non_monotonic_commit, got %+v", violations)
	}
}

func TestCheckerCatchesTermConsistencyViolation(t *testing.T) {
	c := New()
	c.committed["node-a"] = []CommittedEntry{
		{Index: 1, Term: 3},
		{Index: 2, Term: 1},
	}
	ok, violations := c.Check()
	if ok {
		t.Fatal("expected a term-consistency violation")
	}
	if violations[0].Kind != "term_consistency" {
		t.Fatalf("expected term_consistency, got %+v", violations)
	}
}

func TestResetClearsState(t *testing.T) {
	c := New()
	c.committed["node-a"] = []CommittedEntry{{Index: 1, Term: 1}}
	c.Reset()
	ok, violations := c.Check()
	if !ok || len(violations) != 0 {
		t.Fatalf("expected clean state after reset, got ok=%v violations=%+v", ok, violations)
	}
}
