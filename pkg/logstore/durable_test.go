package logstore

import (
	"testing"

	"github.com/vzdtic/raftcore/pkg/raft"
)

func TestDurableNew(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("failed to open durable store: %v", err)
	}
	defer d.Close()

	if d.LastIndex() != 0 {
		t.Errorf("expected last index 0, got %d", d.LastIndex())
	}
}

func TestDurableAppendAndRecover(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("failed to open durable store: %v", err)
	}

	entries := []raft.LogEntry{
		{Term: 1, Index: 1, Payload: []byte("a")},
		{Term: 1, Index: 2, Payload: []byte("b")},
		{Term: 2, Index: 3, Payload: []byte("c")},
	}
	if err := d.Append(entries); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := d.SetPersisted(2, "candidate-1"); err != nil {
		t.Fatalf("set persisted failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.LastIndex() != 3 {
		t.Errorf("expected last index 3 after recovery, got %d", reopened.LastIndex())
	}
	if reopened.LastTerm() != 2 {
		t.Errorf("expected last term 2 after recovery, got %d", reopened.LastTerm())
	}
	term, votedFor := reopened.PersistedTerm(), ""
	if v, ok := reopened.PersistedVotedFor(); ok {
		votedFor = v
	}
	if term != 2 || votedFor != "candidate-1" {
		t.Errorf("expected recovered (term=2, votedFor=candidate-1), got (term=%d, votedFor=%s)", term, votedFor)
	}

	entry, ok := reopened.Get(2)
	if !ok || string(entry.Payload) != "b" {
		t.Errorf("expected recovered entry 2 payload 'b', got %+v (ok=%v)", entry, ok)
	}
}

func TestDurableTruncateAfter(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDurable(dir)
	if err != nil {
		t.Fatalf("failed to open durable store: %v", err)
	}
	defer d.Close()

	entries := []raft.LogEntry{
		{Term: 1, Index: 1, Payload: []byte("a")},
		{Term: 1, Index: 2, Payload: []byte("b")},
		{Term: 2, Index: 3, Payload: []byte("c")},
	}
	if err := d.Append(entries); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := d.TruncateAfter(1); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	if d.LastIndex() != 1 {
		t.Errorf("expected last index 1 after truncate, got %d", d.LastIndex())
	}
	if _, ok := d.Get(2); ok {
		t.Errorf("expected entry 2 to be gone after truncate")
	}
}

func TestDurableSnapshotsSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDurableSnapshots(dir)
	if err != nil {
		t.Fatalf("failed to open snapshot store: %v", err)
	}

	if err := s.Save(10, 3, []byte("snapshot-bytes")); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	index, term := s.LastIncluded()
	if index != 10 || term != 3 {
		t.Errorf("expected watermark (10, 3), got (%d, %d)", index, term)
	}

	reopened, err := NewDurableSnapshots(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	rIndex, rTerm := reopened.LastIncluded()
	if rIndex != 10 || rTerm != 3 {
		t.Errorf("expected recovered watermark (10, 3), got (%d, %d)", rIndex, rTerm)
	}
	data, err := reopened.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(data) != "snapshot-bytes" {
		t.Errorf("expected recovered snapshot bytes, got %q", data)
	}
}
