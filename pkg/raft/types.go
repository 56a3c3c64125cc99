// Package raft implements the Raft node state machine: role, term,
// vote, election/heartbeat timers, and the five Raft RPCs, plus the
// leader-side log replication coordinator.
package raft

import (
	"time"

	"github.com/vzdtic/raftcore/pkg/id"
)

// Term is a monotonically non-decreasing logical epoch. It never
// decreases for a live node; observing a higher term always forces a
// step-down to Follower and clears votedFor.
type Term uint64

// LogIndex is a 1-based log position; 0 is the empty-log sentinel.
type LogIndex uint64

// EntryKind distinguishes the three kinds of log entry spec.md §3
// names.
type EntryKind int

const (
	EntryUser EntryKind = iota
	EntryConfiguration
	EntryNoOp
)

func (k EntryKind) String() string {
	switch k {
	case EntryUser:
		return "user"
	case EntryConfiguration:
		return "configuration"
	case EntryNoOp:
		return "no-op"
	default:
		return "unknown"
	}
}

// LogEntry is immutable once it has been assigned an index by the
// leader.
type LogEntry struct {
	Term    Term
	Index   LogIndex
	Payload []byte
	Kind    EntryKind
}

// RoleTag names the four Raft roles. Standby is a pre-start quiescent
// role that participates in no elections.
type RoleTag int32

const (
	RoleStandby RoleTag = iota
	RoleFollower
	RoleCandidate
	RoleLeader
)

func (r RoleTag) String() string {
	switch r {
	case RoleStandby:
		return "standby"
	case RoleFollower:
		return "follower"
	case RoleCandidate:
		return "candidate"
	case RoleLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// RequestVoteRequest/Response implement the RequestVote RPC.
type RequestVoteRequest struct {
	CandidateID  id.NodeID
	Term         Term
	LastLogIndex LogIndex
	LastLogTerm  Term
}

type RequestVoteResponse struct {
	Term    Term
	Granted bool
}

// PreVoteRequest/Response implement the advisory, non-mutating PreVote
// RPC used to avoid disruptive term inflation by partitioned nodes.
type PreVoteRequest struct {
	CandidateID  id.NodeID
	NextTerm     Term
	LastLogIndex LogIndex
	LastLogTerm  Term
}

type PreVoteResponse struct {
	Term       Term
	WouldGrant bool
}

// AppendEntriesRequest/Response implement the AppendEntries RPC. A
// rejection carries ConflictIndex/ConflictTerm so the leader's
// next-index backoff can skip more than one index per round trip
// (fast backtrack), per SPEC_FULL.md's supplemented-features section.
type AppendEntriesRequest struct {
	LeaderID     id.NodeID
	Term         Term
	PrevLogIndex LogIndex
	PrevLogTerm  Term
	Entries      []LogEntry
	LeaderCommit LogIndex
}

type AppendEntriesResponse struct {
	Term          Term
	Success       bool
	ConflictIndex LogIndex
	ConflictTerm  Term
}

// InstallSnapshotRequest/Response implement the InstallSnapshot RPC.
type InstallSnapshotRequest struct {
	LeaderID          id.NodeID
	Term              Term
	LastIncludedIndex LogIndex
	LastIncludedTerm  Term
	Snapshot          []byte
}

type InstallSnapshotResponse struct {
	Term    Term
	Success bool
}

// ResignResponse implements the Resign RPC.
type ResignResponse struct {
	Term     Term
	Resigned bool
}

// ElectionTimeoutRange configures the randomized follower election
// timeout window (spec.md §6).
type ElectionTimeoutRange struct {
	Min time.Duration
	Max time.Duration
}

// BufferingOptions configures the Log Replication Coordinator's
// scratch-store policy for inbound AppendEntries/InstallSnapshot
// payloads (spec.md §4.5). A zero value (Enabled=false) means entries
// stream directly into the log without buffering.
type BufferingOptions struct {
	Enabled            bool
	InMemoryThreshold  int
	ScratchDir         string
}

// Options holds the configuration the core recognizes (spec.md §6).
type Options struct {
	MemberID            id.NodeID
	ElectionTimeoutRange ElectionTimeoutRange
	HeartbeatInterval   time.Duration
	RaftRPCTimeout      time.Duration
	Buffering           BufferingOptions
}

// DefaultOptions returns the spec's suggested defaults, with a fresh
// random MemberID.
func DefaultOptions() Options {
	return Options{
		MemberID: id.New(),
		ElectionTimeoutRange: ElectionTimeoutRange{
			Min: 150 * time.Millisecond,
			Max: 300 * time.Millisecond,
		},
		HeartbeatInterval: 50 * time.Millisecond,
		RaftRPCTimeout:    2 * time.Second,
	}
}
