package dedup

import (
	"testing"
	"time"

	"github.com/vzdtic/raftcore/pkg/id"
)

func TestIsDuplicateBasic(t *testing.T) {
	d := New(10, 0)
	k := Key{SenderID: id.New(), MessageID: 1}

	if d.IsDuplicate(k) {
		t.Fatal("first observation reported as duplicate")
	}
	if !d.IsDuplicate(k) {
		t.Fatal("replay not detected as duplicate")
	}
}

func TestIsDuplicateDistinctKeysNeverCollide(t *testing.T) {
	d := New(10, 0)
	sender := id.New()
	k1 := Key{SenderID: sender, MessageID: 1}
	k2 := Key{SenderID: sender, MessageID: 2}

	d.IsDuplicate(k1)
	if d.IsDuplicate(k2) {
		t.Fatal("distinct message id reported as duplicate (false positive)")
	}
}

func TestCapacityEviction(t *testing.T) {
	d := New(2, 0)
	sender := id.New()
	k1 := Key{SenderID: sender, MessageID: 1}
	k2 := Key{SenderID: sender, MessageID: 2}
	k3 := Key{SenderID: sender, MessageID: 3}

	d.IsDuplicate(k1)
	d.IsDuplicate(k2)
	d.IsDuplicate(k3) // evicts k1 (least recently used)

	if d.Len() > 2 {
		t.Fatalf("cache grew beyond capacity: len=%d", d.Len())
	}
	// A replay of k1 is no longer flagged as a duplicate; such false
	// negatives are explicitly tolerated by contract.
}

func TestAgeBasedEviction(t *testing.T) {
	d := New(10, 10*time.Millisecond)
	fakeNow := time.Now()
	d.nowFunc = func() time.Time { return fakeNow }

	k := Key{SenderID: id.New(), MessageID: 1}
	d.IsDuplicate(k)

	fakeNow = fakeNow.Add(20 * time.Millisecond)
	if d.IsDuplicate(k) {
		t.Fatal("key beyond retention window still reported as duplicate")
	}
}
