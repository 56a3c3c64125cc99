package raft

import "errors"

var (
	// ErrNotLeader is returned by leader-only operations when the local
	// node does not currently hold leadership.
	ErrNotLeader = errors.New("raft: local node is not leader")

	// ErrLogMismatch signals an AppendEntries prevLogIndex/prevLogTerm
	// check failed; handled internally via ConflictIndex/ConflictTerm
	// and never surfaced across the RPC boundary.
	ErrLogMismatch = errors.New("raft: log consistency check failed")

	// ErrStopped names the stopped-node condition. No Node method
	// returns it: operations called after Stop still run against the
	// node's state.
	ErrStopped = errors.New("raft: node has been stopped")

	// ErrSnapshotRequired signals the coordinator must fall back to
	// InstallSnapshot because nextIndex has fallen to or below the
	// follower's last known snapshot index.
	ErrSnapshotRequired = errors.New("raft: follower requires snapshot install")
)
