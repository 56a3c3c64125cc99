package raft

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/registry"
)

// Transport is the contract the Raft State Machine uses to send the
// four peer-to-peer RPCs. A concrete implementation (e.g. pkg/transport)
// maps these onto the wire protocol; the state machine never touches
// sockets directly.
type Transport interface {
	SendRequestVote(ctx context.Context, peerAddr string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	SendPreVote(ctx context.Context, peerAddr string, req *PreVoteRequest) (*PreVoteResponse, error)
	SendAppendEntries(ctx context.Context, peerAddr string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
	SendInstallSnapshot(ctx context.Context, peerAddr string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error)
}

// ApplyFunc is invoked, in log order, for every entry that has become
// committed. The application state machine that consumes committed
// entries is out of scope (spec.md §1); ApplyFunc is the seam it
// plugs into.
type ApplyFunc func(LogEntry)

// Node is the Raft node state machine: role, term, voted-for, election
// and heartbeat timers, and the five Raft RPC handlers. It drives the
// Log Replication Coordinator while in the Leader role.
type Node struct {
	self   id.NodeID
	opts   Options
	logger zerolog.Logger

	state     *state
	store     Store
	snapshots SnapshotStore
	registry  *registry.Registry
	transport Transport

	ciMu sync.Mutex // guards ci/lastApplied below
	ci          LogIndex
	lastApplied LogIndex
	applyFn     ApplyFunc

	repl *replicationCoordinator

	rngMu sync.Mutex
	rng   *rand.Rand

	// electionResetCh is signaled by resetElectionDeadline (called from
	// AppendEntries/InstallSnapshot on valid leader contact) so
	// runFollower/runCandidate can restart their wait instead of
	// timing out against a live leader. Buffered by one and drained
	// non-blocking so a burst of heartbeats collapses to a single
	// pending reset.
	electionResetCh chan struct{}

	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc
	wg              sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewNode constructs a Node in the Standby role. Call Start to begin
// participating in the cluster.
func NewNode(opts Options, store Store, snapshots SnapshotStore, reg *registry.Registry, transport Transport, logger zerolog.Logger) *Node {
	n := &Node{
		self:        opts.MemberID,
		opts:        opts,
		logger:      logger.With().Str("node_id", opts.MemberID.String()).Logger(),
		state:       newState(),
		store:       store,
		snapshots:   snapshots,
		registry:    reg,
		transport:   transport,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(hashNodeID(opts.MemberID)))),
		electionResetCh: make(chan struct{}, 1),
	}
	n.repl = newReplicationCoordinator(n)
	if t := store.PersistedTerm(); t > 0 {
		n.state.term.Write(t)
	}
	return n
}

func hashNodeID(n id.NodeID) uint64 {
	var h uint64
	for _, b := range [16]byte(n) {
		h = h*31 + uint64(b)
	}
	return h
}

// SetApplyFunc registers the callback invoked for newly committed
// entries. Must be called before Start.
func (n *Node) SetApplyFunc(fn ApplyFunc) { n.applyFn = fn }

// ID returns this node's identity.
func (n *Node) ID() id.NodeID { return n.self }

// Role returns the current role.
func (n *Node) Role() RoleTag { return n.state.Role() }

// CurrentTerm returns the current term.
func (n *Node) CurrentTerm() Term { return n.state.CurrentTerm() }

// LeaderHint returns the last known leader, or id.Nil if unknown.
func (n *Node) LeaderHint() id.NodeID { return n.state.LeaderHint() }

// IsLeader reports whether the local node currently believes itself
// to be the leader.
func (n *Node) IsLeader() bool { return n.state.Role() == RoleLeader }

// CommitIndex returns the highest index known committed.
func (n *Node) CommitIndex() LogIndex {
	n.ciMu.Lock()
	defer n.ciMu.Unlock()
	return n.ci
}

func (n *Node) setCommitIndexLocked(newCI LogIndex) {
	// Caller holds ciMu.
	if newCI <= n.ci {
		return
	}
	n.ci = newCI
}

// Start transitions Standby → Follower and begins the election timer.
// Calling Start twice is a no-op.
func (n *Node) Start() {
	n.startOnce.Do(func() {
		n.lifecycleCtx, n.lifecycleCancel = context.WithCancel(context.Background())
		n.state.transMu.Lock()
		if n.state.role.Read() == RoleStandby {
			n.state.role.Write(RoleFollower)
		}
		n.state.transMu.Unlock()

		n.wg.Add(1)
		go n.run()
	})
}

// Stop cancels the node's lifecycle token, stopping all timers and
// causing in-flight retries (in the replication coordinator and any
// caller linking this token) to observe cancellation.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		if n.lifecycleCancel != nil {
			n.lifecycleCancel()
		}
		n.wg.Wait()
	})
}

// LifecycleContext returns the node's lifecycle token, to be linked
// with a per-request cancellation token by callers (spec.md §5).
func (n *Node) LifecycleContext() context.Context {
	if n.lifecycleCtx == nil {
		return context.Background()
	}
	return n.lifecycleCtx
}

func (n *Node) run() {
	defer n.wg.Done()
	for n.lifecycleCtx.Err() == nil {
		switch n.state.Role() {
		case RoleFollower, RoleStandby:
			n.runFollower()
		case RoleCandidate:
			n.runCandidate()
		case RoleLeader:
			n.runLeader()
		default:
			return
		}
	}
}

func (n *Node) randomElectionTimeout() time.Duration {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	lo, hi := n.opts.ElectionTimeoutRange.Min, n.opts.ElectionTimeoutRange.Max
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(n.rng.Int63n(int64(hi-lo)))
}

func (n *Node) runFollower() {
	timer := time.NewTimer(n.randomElectionTimeout())
	defer timer.Stop()

	for {
		select {
		case <-n.lifecycleCtx.Done():
			return
		case <-n.electionResetCh:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(n.randomElectionTimeout())
		case <-timer.C:
			n.becomeCandidate()
			return
		}
	}
}

func (n *Node) runCandidate() {
	granted, total, termOfElection := n.startElection()
	if n.lifecycleCtx.Err() != nil {
		return
	}
	if n.state.Role() != RoleCandidate || n.state.CurrentTerm() != termOfElection {
		// Stepped down (higher term, or an AppendEntries arrived) while
		// the election was in flight.
		return
	}
	if granted >= quorum(total) {
		n.becomeLeader()
		return
	}
	// Split vote or insufficient grants: fall through to a fresh
	// election timeout before retrying, matching runFollower's wait.
	// A reset during this wait means valid leader contact arrived and
	// stepped us down already; stop waiting and let run() reschedule.
	timer := time.NewTimer(n.randomElectionTimeout())
	defer timer.Stop()
	select {
	case <-n.lifecycleCtx.Done():
	case <-n.electionResetCh:
	case <-timer.C:
	}
}

func quorum(total int) int {
	return total/2 + 1
}

// votingPeers returns the other known members, excluding self.
func (n *Node) votingPeers() []*registry.Member {
	var out []*registry.Member
	for _, m := range n.registry.Members() {
		if m.ID != n.self {
			out = append(out, m)
		}
	}
	return out
}

// startElection increments the term, votes for self, and requests
// votes from every peer concurrently. It returns the votes granted
// (including self), the cluster size counted (including self), and
// the term the election was fought in.
func (n *Node) startElection() (granted int, total int, term Term) {
	n.state.transMu.Lock()
	newTerm := n.state.term.Read() + 1
	n.state.term.Write(newTerm)
	n.state.role.Write(RoleCandidate)
	n.state.votedFor = n.self.String()
	n.state.votedForTerm = newTerm
	if err := n.store.SetPersisted(newTerm, n.self.String()); err != nil {
		n.logger.Error().Err(err).Msg("failed to persist term/votedFor before election")
	}
	n.state.transMu.Unlock()

	peers := n.votingPeers()
	total = len(peers) + 1
	lastIdx := n.store.LastIndex()
	lastTerm := n.store.LastTerm()

	type result struct{ granted bool }
	resultsCh := make(chan result, len(peers))

	ctx, cancel := context.WithTimeout(n.lifecycleCtx, n.opts.RaftRPCTimeout)
	defer cancel()

	for _, peer := range peers {
		peer := peer
		go func() {
			resp, err := n.transport.SendRequestVote(ctx, peer.Address, &RequestVoteRequest{
				CandidateID:  n.self,
				Term:         newTerm,
				LastLogIndex: lastIdx,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				resultsCh <- result{granted: false}
				return
			}
			if resp.Term > newTerm {
				n.observeHigherTerm(resp.Term)
			}
			resultsCh <- result{granted: resp.Granted}
		}()
	}

	granted = 1 // vote for self
	for i := 0; i < len(peers); i++ {
		r := <-resultsCh
		if r.granted {
			granted++
		}
	}
	return granted, total, newTerm
}

func (n *Node) becomeCandidate() {
	// Role flip itself happens inside startElection (it must bump the
	// term and role together); runCandidate is entered by the run loop
	// purely by observing RoleCandidate, so this just marks intent by
	// writing the tag ahead of the election for callers racing a read.
	n.state.transMu.Lock()
	if n.state.role.Read() != RoleLeader {
		n.state.role.Write(RoleCandidate)
	}
	n.state.transMu.Unlock()
}

func (n *Node) becomeLeader() {
	n.state.transMu.Lock()
	if n.state.role.Read() != RoleCandidate {
		n.state.transMu.Unlock()
		return
	}
	n.state.role.Write(RoleLeader)
	n.state.leaderHint.Write(n.self)
	n.state.transMu.Unlock()

	n.logger.Info().Uint64("term", uint64(n.state.CurrentTerm())).Msg("became leader")

	n.repl.onBecomeLeader()

	// Append a no-op entry in the new term so commit-index advancement
	// (which requires an entry in the leader's own term) can proceed
	// even with no client traffic yet.
	noop := LogEntry{
		Term:  n.state.CurrentTerm(),
		Index: n.store.LastIndex() + 1,
		Kind:  EntryNoOp,
	}
	if err := n.store.Append([]LogEntry{noop}); err != nil {
		n.logger.Error().Err(err).Msg("failed to append no-op entry on leader transition")
	}
}

// observeHigherTerm steps down to Follower if term exceeds the
// current term, atomically with clearing votedFor and stopping any
// election-specific state. Safe to call from any goroutine.
func (n *Node) observeHigherTerm(term Term) {
	n.state.transMu.Lock()
	defer n.state.transMu.Unlock()
	if term > n.state.term.Read() {
		wasLeader := n.state.role.Read() == RoleLeader
		n.state.stepDownLocked(term)
		if err := n.store.SetPersisted(term, ""); err != nil {
			n.logger.Error().Err(err).Msg("failed to persist term on step-down")
		}
		if wasLeader {
			n.repl.onStepDown()
		}
	}
}

func (n *Node) runLeader() {
	ticker := time.NewTicker(n.opts.HeartbeatInterval)
	defer ticker.Stop()

	n.repl.tick() // immediate heartbeat on taking over
	for {
		select {
		case <-n.lifecycleCtx.Done():
			return
		case <-ticker.C:
			if n.state.Role() != RoleLeader {
				return
			}
			n.repl.tick()
			if n.state.Role() != RoleLeader {
				return
			}
		}
	}
}

// --- RPC handlers (spec.md §4.4) ---

// Vote implements the RequestVote RPC.
func (n *Node) Vote(req *RequestVoteRequest) *RequestVoteResponse {
	n.state.transMu.Lock()
	defer n.state.transMu.Unlock()

	current := n.state.term.Read()
	if req.Term < current {
		return &RequestVoteResponse{Term: current, Granted: false}
	}
	if req.Term > current {
		n.state.stepDownLocked(req.Term)
		current = req.Term
	}

	canVote := n.state.votedFor == "" || (n.state.votedForTerm == current && n.state.votedFor == req.CandidateID.String())
	upToDate := n.logUpToDateLocked(req.LastLogIndex, req.LastLogTerm)

	granted := canVote && upToDate
	if granted {
		n.state.votedFor = req.CandidateID.String()
		n.state.votedForTerm = current
	}
	if err := n.store.SetPersisted(current, n.state.votedFor); err != nil {
		n.logger.Error().Err(err).Msg("failed to persist term/votedFor")
	}
	return &RequestVoteResponse{Term: current, Granted: granted}
}

// PreVote implements the advisory PreVote RPC. It never mutates term
// or votedFor.
func (n *Node) PreVote(req *PreVoteRequest) *PreVoteResponse {
	current := n.state.CurrentTerm()
	if req.NextTerm < current {
		return &PreVoteResponse{Term: current, WouldGrant: false}
	}
	upToDate := n.logUpToDateLocked(req.LastLogIndex, req.LastLogTerm)
	return &PreVoteResponse{Term: current, WouldGrant: upToDate}
}

// logUpToDateLocked compares (lastLogTerm, lastLogIndex) against the
// local log per the Raft up-to-date predicate. Safe to call with or
// without transMu held; it only reads immutable/atomic state.
func (n *Node) logUpToDateLocked(candidateLastIndex LogIndex, candidateLastTerm Term) bool {
	localLastTerm := n.store.LastTerm()
	localLastIndex := n.store.LastIndex()
	if candidateLastTerm != localLastTerm {
		return candidateLastTerm > localLastTerm
	}
	return candidateLastIndex >= localLastIndex
}

// AppendEntries implements the AppendEntries RPC.
func (n *Node) AppendEntries(req *AppendEntriesRequest) *AppendEntriesResponse {
	n.state.transMu.Lock()
	current := n.state.term.Read()
	if req.Term < current || req.Term == 0 {
		n.state.transMu.Unlock()
		return &AppendEntriesResponse{Term: current, Success: false}
	}
	wasLeader := n.state.role.Read() == RoleLeader
	if req.Term > current || n.state.role.Read() != RoleFollower {
		n.state.stepDownLocked(req.Term)
		current = req.Term
	}
	n.state.leaderHint.Write(req.LeaderID)
	if wasLeader {
		n.repl.onStepDown()
	}
	n.state.transMu.Unlock()

	n.resetElectionDeadline()

	if req.PrevLogIndex > 0 {
		prev, ok := n.store.Get(req.PrevLogIndex)
		if !ok {
			return &AppendEntriesResponse{
				Term:          current,
				Success:       false,
				ConflictIndex: n.store.LastIndex() + 1,
			}
		}
		if prev.Term != req.PrevLogTerm {
			conflictTerm := prev.Term
			conflictIndex := req.PrevLogIndex
			for idx := req.PrevLogIndex - 1; idx > 0; idx-- {
				e, ok := n.store.Get(idx)
				if !ok || e.Term != conflictTerm {
					conflictIndex = idx + 1
					break
				}
				if idx == 1 {
					conflictIndex = 1
				}
			}
			if err := n.store.TruncateAfter(req.PrevLogIndex - 1); err != nil {
				n.logger.Error().Err(err).Msg("truncate failed")
			}
			return &AppendEntriesResponse{Term: current, Success: false, ConflictIndex: conflictIndex, ConflictTerm: conflictTerm}
		}
	}

	if len(req.Entries) > 0 {
		// Stage the incoming payload (in-memory or to a scratch file per
		// BufferingOptions) before it reaches the log, decoupling
		// reception from fsync latency.
		staged := bufferEntries(n.opts.Buffering, req.Entries)
		var toAppend []LogEntry
		for _, e := range staged {
			existing, ok := n.store.Get(e.Index)
			if ok {
				if existing.Term == e.Term {
					continue
				}
				if err := n.store.TruncateAfter(e.Index - 1); err != nil {
					n.logger.Error().Err(err).Msg("truncate on conflict failed")
				}
			}
			toAppend = append(toAppend, e)
		}
		if len(toAppend) > 0 {
			if err := n.store.Append(toAppend); err != nil {
				n.logger.Error().Err(err).Msg("append failed")
				return &AppendEntriesResponse{Term: current, Success: false}
			}
		}
	}

	if req.LeaderCommit > n.CommitIndex() {
		lastNew := n.store.LastIndex()
		newCommit := req.LeaderCommit
		if lastNew < newCommit {
			newCommit = lastNew
		}
		n.advanceCommitIndex(newCommit)
	}

	return &AppendEntriesResponse{Term: current, Success: true}
}

// InstallSnapshot implements the InstallSnapshot RPC.
func (n *Node) InstallSnapshot(req *InstallSnapshotRequest) *InstallSnapshotResponse {
	n.state.transMu.Lock()
	current := n.state.term.Read()
	if req.Term < current {
		n.state.transMu.Unlock()
		return &InstallSnapshotResponse{Term: current, Success: false}
	}
	wasLeader := n.state.role.Read() == RoleLeader
	if req.Term > current || n.state.role.Read() != RoleFollower {
		n.state.stepDownLocked(req.Term)
		current = req.Term
	}
	n.state.leaderHint.Write(req.LeaderID)
	if wasLeader {
		n.repl.onStepDown()
	}
	n.state.transMu.Unlock()

	n.resetElectionDeadline()

	staged := bufferPayload(n.opts.Buffering, req.Snapshot)
	if err := n.snapshots.Save(req.LastIncludedIndex, req.LastIncludedTerm, staged); err != nil {
		n.logger.Error().Err(err).Msg("snapshot save failed")
		return &InstallSnapshotResponse{Term: current, Success: false}
	}
	if err := n.store.TruncateAfter(req.LastIncludedIndex); err != nil {
		n.logger.Error().Err(err).Msg("log truncate through snapshot watermark failed")
	}
	n.advanceCommitIndex(req.LastIncludedIndex)
	return &InstallSnapshotResponse{Term: current, Success: true}
}

// Resign implements the Resign RPC: if Leader, steps down to
// Follower; returns true iff a resignation actually occurred.
func (n *Node) Resign() *ResignResponse {
	n.state.transMu.Lock()
	defer n.state.transMu.Unlock()
	if n.state.role.Read() != RoleLeader {
		return &ResignResponse{Term: n.state.term.Read(), Resigned: false}
	}
	n.state.role.Write(RoleFollower)
	term := n.state.term.Read()
	n.repl.onStepDown()
	return &ResignResponse{Term: term, Resigned: true}
}

// ConfirmLeadership implements the ReadIndex-style linearizable-read
// guard: it sends a bare heartbeat round to every peer and blocks
// until a majority (including self) has acknowledged the current
// term, or until three heartbeat intervals have passed, at which point
// it reports whether the acks received so far reach a majority. A caller that gets false must not
// answer a read from local state — it may no longer be leader, or may
// never have been confirmed as leader for the term it read under.
func (n *Node) ConfirmLeadership(ctx context.Context) bool {
	n.state.transMu.Lock()
	if n.state.role.Read() != RoleLeader {
		n.state.transMu.Unlock()
		return false
	}
	term := n.state.term.Read()
	n.state.transMu.Unlock()

	peers := n.votingPeers()
	needed := quorum(len(peers) + 1)

	var acked int32 = 1 // self
	done := make(chan struct{}, 1)
	var wg sync.WaitGroup

	for _, peer := range peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			rpcCtx, cancel := context.WithTimeout(ctx, n.opts.RaftRPCTimeout)
			defer cancel()
			resp, err := n.transport.SendAppendEntries(rpcCtx, peer.Address, &AppendEntriesRequest{
				LeaderID:     n.self,
				Term:         term,
				PrevLogIndex: n.store.LastIndex(),
				PrevLogTerm:  n.lastLogTerm(),
				LeaderCommit: n.CommitIndex(),
			})
			if err != nil {
				return
			}
			if resp.Term > term {
				n.observeHigherTerm(resp.Term)
				return
			}
			if resp.Success && atomic.AddInt32(&acked, 1) >= int32(needed) {
				select {
				case done <- struct{}{}:
				default:
				}
			}
		}()
	}

	waitCtx, cancel := context.WithTimeout(ctx, n.opts.HeartbeatInterval*3)
	defer cancel()
	select {
	case <-done:
		return true
	case <-waitCtx.Done():
		return atomic.LoadInt32(&acked) >= int32(needed)
	}
}

func (n *Node) lastLogTerm() Term {
	last := n.store.LastIndex()
	if last == 0 {
		return 0
	}
	if e, ok := n.store.Get(last); ok {
		return e.Term
	}
	return 0
}

// Announce periodically broadcasts this node's address and identity
// to every known peer so dynamic joiners can discover it. Callers
// drive the cadence; Announce performs a single broadcast pass.
func (n *Node) Announce(ctx context.Context, addr string) {
	for _, peer := range n.votingPeers() {
		peer := peer
		go func() {
			ctx, cancel := context.WithTimeout(ctx, n.opts.RaftRPCTimeout)
			defer cancel()
			_, _ = n.transport.SendAppendEntries(ctx, peer.Address, &AppendEntriesRequest{
				LeaderID: n.self,
				Term:     0, // announce-only probe; term 0 is always stale and never adopted
			})
		}()
	}
}

// resetElectionDeadline signals runFollower/runCandidate to restart
// their election wait with a fresh randomized timeout, called on every
// valid AppendEntries/InstallSnapshot from the current leader
// (spec.md §4.4's "reset election timer" step). The send is
// non-blocking: if a reset is already pending, this is a no-op since
// the pending one will still land before the old deadline.
func (n *Node) resetElectionDeadline() {
	select {
	case n.electionResetCh <- struct{}{}:
	default:
	}
}

func (n *Node) advanceCommitIndex(newCI LogIndex) {
	n.ciMu.Lock()
	if newCI <= n.ci {
		n.ciMu.Unlock()
		return
	}
	from := n.lastApplied + 1
	n.setCommitIndexLocked(newCI)
	to := n.ci
	n.ciMu.Unlock()

	for idx := from; idx <= to; idx++ {
		e, ok := n.store.Get(idx)
		if !ok {
			continue
		}
		switch e.Kind {
		case EntryConfiguration:
			n.applyConfigChange(e)
		case EntryUser:
			if n.applyFn != nil {
				n.applyFn(e)
			}
		}
		n.ciMu.Lock()
		n.lastApplied = idx
		n.ciMu.Unlock()
	}
}
