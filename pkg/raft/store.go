package raft

// Store is the durable log contract the Raft State Machine and Log
// Replication Coordinator depend on. Per spec.md §1 the durable log
// store is an external collaborator, out of scope for this module to
// implement; package logstore ships a non-durable stand-in good
// enough to drive this module's own tests.
type Store interface {
	// LastIndex returns the index of the last entry in the log, or 0
	// if the log (beyond any snapshot) is empty.
	LastIndex() LogIndex
	// LastTerm returns the term of the last entry, or 0 for the
	// empty-log sentinel.
	LastTerm() Term
	// Get returns the entry at index, or ok=false if it is not present
	// (compacted away or beyond LastIndex).
	Get(index LogIndex) (entry LogEntry, ok bool)
	// Append appends entries, which must be contiguous and begin
	// immediately after the current LastIndex.
	Append(entries []LogEntry) error
	// TruncateAfter discards all entries with index > after.
	TruncateAfter(after LogIndex) error
	// Entries returns the entries in [from, to] inclusive that are
	// still present in the log.
	Entries(from, to LogIndex) []LogEntry

	// PersistedTerm/PersistedVotedFor/SetPersisted persist (term,
	// votedFor) together, per spec.md §4.4's requirement that they be
	// persisted before a vote response is sent.
	PersistedTerm() Term
	PersistedVotedFor() (candidate string, has bool)
	SetPersisted(term Term, votedFor string) error
}

// SnapshotStore is the durable snapshot contract.
type SnapshotStore interface {
	// Save persists a snapshot blob covering entries up to and
	// including lastIncludedIndex/lastIncludedTerm.
	Save(lastIncludedIndex LogIndex, lastIncludedTerm Term, data []byte) error
	// LastIncluded returns the most recently saved snapshot's
	// watermark, or (0, 0) if none has been saved.
	LastIncluded() (index LogIndex, term Term)
	// Load returns the most recently saved snapshot's bytes.
	Load() ([]byte, error)
}
