// Package logstore provides implementations of the raft.Store and
// raft.SnapshotStore contracts. Memory and MemorySnapshots are
// non-durable and in-memory; they drive this module's own tests and
// local experimentation, grounded on the teacher's wal.Entry shape.
// Durable and DurableSnapshots (durable.go) persist to files on disk.
package logstore

import (
	"sort"
	"sync"

	"github.com/vzdtic/raftcore/pkg/raft"
)

// Memory is an in-memory raft.Store. It is not durable: state is lost
// on process restart.
type Memory struct {
	mu          sync.RWMutex
	entries     []raft.LogEntry // sorted by Index, compacted prefix dropped
	term        raft.Term
	votedFor    string
	hasVotedFor bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LastIndex() raft.LogIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].Index
}

func (m *Memory) LastTerm() raft.Term {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].Term
}

func (m *Memory) Get(index raft.LogIndex) (raft.LogEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOfLocked(index)
	if i < 0 {
		return raft.LogEntry{}, false
	}
	return m.entries[i], true
}

// indexOfLocked returns the slice position of index, or -1. Caller
// must hold m.mu.
func (m *Memory) indexOfLocked(index raft.LogIndex) int {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Index >= index
	})
	if i < len(m.entries) && m.entries[i].Index == index {
		return i
	}
	return -1
}

func (m *Memory) Append(newEntries []raft.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, newEntries...)
	return nil
}

func (m *Memory) TruncateAfter(after raft.LogIndex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Index > after
	})
	m.entries = m.entries[:i]
	return nil
}

func (m *Memory) Entries(from, to raft.LogIndex) []raft.LogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []raft.LogEntry
	for _, e := range m.entries {
		if e.Index >= from && e.Index <= to {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) PersistedTerm() raft.Term {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.term
}

func (m *Memory) PersistedVotedFor() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.votedFor, m.hasVotedFor
}

func (m *Memory) SetPersisted(term raft.Term, votedFor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.term = term
	m.votedFor = votedFor
	m.hasVotedFor = votedFor != ""
	return nil
}

// MemorySnapshots is a non-durable raft.SnapshotStore.
type MemorySnapshots struct {
	mu    sync.RWMutex
	index raft.LogIndex
	term  raft.Term
	data  []byte
	saved bool
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{}
}

func (s *MemorySnapshots) Save(lastIncludedIndex raft.LogIndex, lastIncludedTerm raft.Term, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = lastIncludedIndex
	s.term = lastIncludedTerm
	s.data = append([]byte(nil), data...)
	s.saved = true
	return nil
}

func (s *MemorySnapshots) LastIncluded() (raft.LogIndex, raft.Term) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index, s.term
}

func (s *MemorySnapshots) Load() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.data...), nil
}
