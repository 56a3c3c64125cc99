package raft

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/vzdtic/raftcore/pkg/registry"
)

// replicationCoordinator drives per-peer log replication while the
// local node is Leader: nextIndex/matchIndex bookkeeping, AppendEntries
// batching, InstallSnapshot fallback, and commit-index advancement.
// It is inert outside the Leader role.
type replicationCoordinator struct {
	n *Node

	mu     sync.Mutex
	active bool
}

func newReplicationCoordinator(n *Node) *replicationCoordinator {
	return &replicationCoordinator{n: n}
}

// onBecomeLeader initializes nextIndex/matchIndex for every known
// peer: nextIndex = lastLogIndex+1, matchIndex = 0.
func (rc *replicationCoordinator) onBecomeLeader() {
	rc.mu.Lock()
	rc.active = true
	rc.mu.Unlock()

	lastIdx := rc.n.store.LastIndex()
	for _, peer := range rc.n.votingPeers() {
		peer.SetNextIndex(lastIdx + 1)
		peer.SetMatchIndex(0)
	}
}

// onStepDown marks replication inert. In-flight per-peer goroutines
// check this (via the node's role) and abandon their retry loop.
func (rc *replicationCoordinator) onStepDown() {
	rc.mu.Lock()
	rc.active = false
	rc.mu.Unlock()
}

func (rc *replicationCoordinator) isActive() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.active
}

// tick fires one round of replication: an AppendEntries (or
// InstallSnapshot fallback) to every peer, followed by commit-index
// advancement once replies are in. It is called on every heartbeat
// interval and may also be invoked eagerly after a successful client
// append.
func (rc *replicationCoordinator) tick() {
	if !rc.isActive() {
		return
	}
	term := rc.n.state.CurrentTerm()
	peers := rc.n.votingPeers()

	var wg sync.WaitGroup
	for _, peer := range peers {
		if peer.Inflight() {
			continue
		}
		peer.SetInflight(true)
		wg.Add(1)
		go func(peer *registry.Member) {
			defer wg.Done()
			defer peer.SetInflight(false)
			rc.replicateToPeer(peer, term)
		}(peer)
	}
	wg.Wait()

	rc.updateCommitIndex(term)
}

func (rc *replicationCoordinator) replicateToPeer(peer *registry.Member, term Term) {
	n := rc.n
	if n.state.CurrentTerm() != term || n.state.Role() != RoleLeader {
		return
	}

	lastSnapIndex, _ := n.snapshots.LastIncluded()
	nextIdx := peer.NextIndex()
	if nextIdx <= lastSnapIndex {
		rc.sendSnapshot(peer, term)
		return
	}

	prevIdx := nextIdx - 1
	var prevTerm Term
	if prevIdx > 0 {
		if e, ok := n.store.Get(prevIdx); ok {
			prevTerm = e.Term
		} else {
			// Compacted past what we have: fall back to snapshot.
			rc.sendSnapshot(peer, term)
			return
		}
	}

	entries := n.store.Entries(nextIdx, n.store.LastIndex())

	ctx, cancel := context.WithTimeout(n.lifecycleCtx, n.opts.RaftRPCTimeout)
	defer cancel()

	resp, err := n.transport.SendAppendEntries(ctx, peer.Address, &AppendEntriesRequest{
		LeaderID:     n.self,
		Term:         term,
		PrevLogIndex: prevIdx,
		PrevLogTerm:  prevTerm,
		Entries:      entries,
		LeaderCommit: n.CommitIndex(),
	})
	if err != nil {
		return // transient; next tick retries
	}
	if resp.Term > term {
		n.observeHigherTerm(resp.Term)
		return
	}
	if resp.Success {
		if len(entries) > 0 {
			peer.SetMatchIndex(entries[len(entries)-1].Index)
		}
		peer.SetNextIndex(peer.MatchIndex() + 1)
		return
	}

	// Rejected: back off nextIndex. Prefer the fast-backtrack hint when
	// present, otherwise decrement by exactly one (bounded by 1).
	if resp.ConflictIndex > 0 {
		next := resp.ConflictIndex
		if next < 1 {
			next = 1
		}
		peer.SetNextIndex(next)
	} else if nextIdx > 1 {
		peer.SetNextIndex(nextIdx - 1)
	}
}

func (rc *replicationCoordinator) sendSnapshot(peer *registry.Member, term Term) {
	n := rc.n
	data, err := n.snapshots.Load()
	if err != nil {
		return
	}
	lastIdx, lastTerm := n.snapshots.LastIncluded()

	ctx, cancel := context.WithTimeout(n.lifecycleCtx, n.opts.RaftRPCTimeout)
	defer cancel()

	resp, err := n.transport.SendInstallSnapshot(ctx, peer.Address, &InstallSnapshotRequest{
		LeaderID:          n.self,
		Term:              term,
		LastIncludedIndex: lastIdx,
		LastIncludedTerm:  lastTerm,
		Snapshot:          data,
	})
	if err != nil {
		return
	}
	if resp.Term > term {
		n.observeHigherTerm(resp.Term)
		return
	}
	if resp.Success {
		peer.SetMatchIndex(lastIdx)
		peer.SetNextIndex(lastIdx + 1)
	}
}

// updateCommitIndex advances commitIndex to the highest index N such
// that a majority of matchIndex >= N AND log[N].term == currentTerm.
// This term restriction is the critical safety property that prevents
// a future leader from overwriting an earlier leader's indirectly
// replicated entry (Raft §5.4.2).
func (rc *replicationCoordinator) updateCommitIndex(term Term) {
	n := rc.n
	if n.state.CurrentTerm() != term || n.state.Role() != RoleLeader {
		return
	}

	peers := n.votingPeers()
	matches := make([]LogIndex, 0, len(peers)+1)
	matches = append(matches, n.store.LastIndex()) // leader always matches itself fully
	for _, p := range peers {
		matches = append(matches, p.MatchIndex())
	}

	// Candidate commit index N is the quorum'th highest matchIndex.
	candidate := kthLargest(matches, quorum(len(peers)+1))
	if candidate <= n.CommitIndex() {
		return
	}
	e, ok := n.store.Get(candidate)
	if !ok || e.Term != term {
		return
	}
	n.advanceCommitIndex(candidate)
}

// kthLargest returns the k-th largest value in vals (k=1 is the max).
func kthLargest(vals []LogIndex, k int) LogIndex {
	if k < 1 || k > len(vals) {
		return 0
	}
	sorted := append([]LogIndex(nil), vals...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] < sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[k-1]
}

// bufferEntries applies the configured buffering policy to an inbound
// AppendEntries payload before it is handed to the log: below the
// in-memory threshold, entries are copied into a scratch byte slice
// in-place; at or above it, payloads are spilled to a temp file and
// read back. An InMemoryThreshold of zero keeps every payload in
// memory. This decouples network reception from log fsync latency
// by staging the payload fully before store.Append ever runs. Entries
// themselves are small value copies either way; the policy governs
// how their Payload bytes are staged.
func bufferEntries(opts BufferingOptions, entries []LogEntry) []LogEntry {
	if !opts.Enabled || len(entries) == 0 {
		return entries
	}
	out := make([]LogEntry, len(entries))
	for i, e := range entries {
		if len(e.Payload) < opts.InMemoryThreshold || opts.InMemoryThreshold == 0 {
			cp := append([]byte(nil), e.Payload...)
			e.Payload = cp
		} else {
			staged, err := stageToTempFile(opts.ScratchDir, e.Payload)
			if err == nil {
				e.Payload = staged
			}
		}
		out[i] = e
	}
	return out
}

// bufferPayload applies the same staging policy as bufferEntries to a
// single raw payload (an incoming InstallSnapshot body, which carries
// no LogEntry wrapper).
func bufferPayload(opts BufferingOptions, payload []byte) []byte {
	if !opts.Enabled || len(payload) == 0 {
		return payload
	}
	if len(payload) < opts.InMemoryThreshold || opts.InMemoryThreshold == 0 {
		return append([]byte(nil), payload...)
	}
	staged, err := stageToTempFile(opts.ScratchDir, payload)
	if err != nil {
		return payload
	}
	return staged
}

func stageToTempFile(dir string, payload []byte) ([]byte, error) {
	f, err := os.CreateTemp(dir, "raft-scratch-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Clean(f.Name()))
}
