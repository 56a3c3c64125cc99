package registry

import (
	"testing"
	"time"

	"github.com/vzdtic/raftcore/pkg/id"
)

func TestAddTryGetRemove(t *testing.T) {
	r := New()
	nodeID := id.New()

	if r.TryGet(nodeID) != nil {
		t.Fatal("expected unknown member to be nil")
	}

	r.AddMember(nodeID, "10.0.0.1:8080", true)
	m := r.TryGet(nodeID)
	if m == nil {
		t.Fatal("expected member to be found after AddMember")
	}
	if m.Address != "10.0.0.1:8080" || !m.IsRemote {
		t.Fatalf("unexpected member fields: %+v", m)
	}

	r.RemoveMember(nodeID)
	if r.TryGet(nodeID) != nil {
		t.Fatal("expected member to be gone after RemoveMember")
	}
}

func TestTouchUpdatesLiveness(t *testing.T) {
	r := New()
	nodeID := id.New()
	r.AddMember(nodeID, "addr", true)

	before := r.TryGet(nodeID).LastContact()
	r.Touch(nodeID)
	after := r.TryGet(nodeID).LastContact()

	if !after.After(before) {
		t.Fatalf("LastContact did not advance: before=%v after=%v", before, after)
	}
}

func TestTouchUnknownMemberIsNoop(t *testing.T) {
	r := New()
	r.Touch(id.New()) // must not panic
}

func TestProgressCountersLeaderOwned(t *testing.T) {
	r := New()
	nodeID := id.New()
	m := r.AddMember(nodeID, "addr", true)

	m.SetNextIndex(5)
	m.SetMatchIndex(3)

	if m.NextIndex() != 5 || m.MatchIndex() != 3 {
		t.Fatalf("unexpected progress: next=%d match=%d", m.NextIndex(), m.MatchIndex())
	}
}

func TestMembersSnapshot(t *testing.T) {
	r := New()
	r.AddMember(id.New(), "a", true)
	r.AddMember(id.New(), "b", true)

	if got := len(r.Members()); got != 2 {
		t.Fatalf("Members() len = %d, want 2", got)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}
}

func TestLastContactZeroBeforeTouch(t *testing.T) {
	r := New()
	nodeID := id.New()
	m := r.AddMember(nodeID, "addr", false)
	if !m.LastContact().IsZero() {
		t.Fatal("expected zero LastContact before first touch")
	}
	_ = time.Now()
}
