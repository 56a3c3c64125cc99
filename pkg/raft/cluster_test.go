package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/logstore"
	"github.com/vzdtic/raftcore/pkg/registry"
)

// fakeTransport fails every RPC with context.DeadlineExceeded; it backs
// single-node tests that never reach a peer. clusterTransport below
// routes RPCs in-process between Nodes registered under their address
// (the NodeID's string form), with per-node partitioning, mirroring the
// teacher's LocalTransport test double.
type fakeTransport struct{}

func (fakeTransport) SendRequestVote(ctx context.Context, peerAddr string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	return nil, context.DeadlineExceeded
}
func (fakeTransport) SendPreVote(ctx context.Context, peerAddr string, req *PreVoteRequest) (*PreVoteResponse, error) {
	return nil, context.DeadlineExceeded
}
func (fakeTransport) SendAppendEntries(ctx context.Context, peerAddr string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	return nil, context.DeadlineExceeded
}
func (fakeTransport) SendInstallSnapshot(ctx context.Context, peerAddr string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	return nil, context.DeadlineExceeded
}

type localCluster struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	partitions map[string]map[string]bool
}

func newLocalCluster() *localCluster {
	return &localCluster{
		nodes:      make(map[string]*Node),
		partitions: make(map[string]map[string]bool),
	}
}

func (c *localCluster) register(addr string, n *Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[addr] = n
}

func (c *localCluster) partition(nodeAddr string, isolated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partitions[nodeAddr] == nil {
		c.partitions[nodeAddr] = make(map[string]bool)
	}
	c.partitions[nodeAddr]["*"] = isolated
}

func (c *localCluster) blocked(addr string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partitions[addr] != nil && c.partitions[addr]["*"]
}

type clusterTransport struct {
	cluster *localCluster
	self    string
}

func (t *clusterTransport) SendRequestVote(ctx context.Context, peerAddr string, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	if t.cluster.blocked(t.self) || t.cluster.blocked(peerAddr) {
		return nil, context.DeadlineExceeded
	}
	t.cluster.mu.RLock()
	peer, ok := t.cluster.nodes[peerAddr]
	t.cluster.mu.RUnlock()
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return peer.Vote(req), nil
}

func (t *clusterTransport) SendPreVote(ctx context.Context, peerAddr string, req *PreVoteRequest) (*PreVoteResponse, error) {
	if t.cluster.blocked(t.self) || t.cluster.blocked(peerAddr) {
		return nil, context.DeadlineExceeded
	}
	t.cluster.mu.RLock()
	peer, ok := t.cluster.nodes[peerAddr]
	t.cluster.mu.RUnlock()
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return peer.PreVote(req), nil
}

func (t *clusterTransport) SendAppendEntries(ctx context.Context, peerAddr string, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	if t.cluster.blocked(t.self) || t.cluster.blocked(peerAddr) {
		return nil, context.DeadlineExceeded
	}
	t.cluster.mu.RLock()
	peer, ok := t.cluster.nodes[peerAddr]
	t.cluster.mu.RUnlock()
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return peer.AppendEntries(req), nil
}

func (t *clusterTransport) SendInstallSnapshot(ctx context.Context, peerAddr string, req *InstallSnapshotRequest) (*InstallSnapshotResponse, error) {
	if t.cluster.blocked(t.self) || t.cluster.blocked(peerAddr) {
		return nil, context.DeadlineExceeded
	}
	t.cluster.mu.RLock()
	peer, ok := t.cluster.nodes[peerAddr]
	t.cluster.mu.RUnlock()
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return peer.InstallSnapshot(req), nil
}

// buildCluster creates n nodes wired together through an in-process
// transport, with every node knowing every other node's address
// (its NodeID string).
func buildCluster(t *testing.T, n int) ([]*Node, *localCluster) {
	t.Helper()
	cluster := newLocalCluster()
	nodes := make([]*Node, n)
	ids := make([]id.NodeID, n)
	for i := range ids {
		ids[i] = id.New()
	}

	for i := 0; i < n; i++ {
		opts := DefaultOptions()
		opts.MemberID = ids[i]
		opts.ElectionTimeoutRange = ElectionTimeoutRange{Min: 30 * time.Millisecond, Max: 60 * time.Millisecond}
		opts.HeartbeatInterval = 10 * time.Millisecond
		opts.RaftRPCTimeout = 50 * time.Millisecond

		reg := registry.New()
		for j := 0; j < n; j++ {
			if j != i {
				reg.AddMember(ids[j], ids[j].String(), true)
			}
		}

		node := NewNode(opts, logstore.NewMemory(), logstore.NewMemorySnapshots(), reg, &clusterTransport{cluster: cluster, self: ids[i].String()}, zerolog.Nop())
		nodes[i] = node
		cluster.register(ids[i].String(), node)
	}
	return nodes, cluster
}

func waitForLeader(t *testing.T, nodes []*Node, timeout time.Duration) *Node {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			if n.IsLeader() {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestSingleNodeBootstrapBecomesLeader(t *testing.T) {
	nodes, _ := buildCluster(t, 1)
	nodes[0].Start()
	defer nodes[0].Stop()

	leader := waitForLeader(t, nodes, 2*time.Second)
	if leader.CurrentTerm() != 1 {
		t.Fatalf("expected term 1 on single-node bootstrap, got %d", leader.CurrentTerm())
	}
}

func TestThreeNodeElectionConvergesOnOneLeader(t *testing.T) {
	nodes, _ := buildCluster(t, 3)
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}

	leader := waitForLeader(t, nodes, 3*time.Second)

	leaderCount := 0
	term := leader.CurrentTerm()
	for _, n := range nodes {
		if n.IsLeader() {
			leaderCount++
		}
		if n.CurrentTerm() > term {
			t.Fatalf("node term %d exceeds leader term %d: leader uniqueness violated", n.CurrentTerm(), term)
		}
	}
	if leaderCount != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaderCount)
	}
}

func TestFollowersDoNotReelectAgainstALiveLeader(t *testing.T) {
	nodes, _ := buildCluster(t, 3)
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}
	leader := waitForLeader(t, nodes, 3*time.Second)
	term := leader.CurrentTerm()

	// The cluster's election timeout range is 30-60ms and the leader
	// heartbeats every 10ms; holding for several election timeouts
	// worth of continuous heartbeats must not provoke a new election
	// so long as resetElectionDeadline genuinely defers it.
	time.Sleep(400 * time.Millisecond)

	if leader.CurrentTerm() != term || !leader.IsLeader() {
		t.Fatalf("expected leader to remain stable at term %d, got role %s term %d", term, leader.Role(), leader.CurrentTerm())
	}
	leaderCount := 0
	for _, n := range nodes {
		if n.IsLeader() {
			leaderCount++
		}
	}
	if leaderCount != 1 {
		t.Fatalf("expected exactly one leader after a quiet period with live heartbeats, got %d", leaderCount)
	}
}

func TestConfirmLeadershipSucceedsWithQuorum(t *testing.T) {
	nodes, _ := buildCluster(t, 3)
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}
	leader := waitForLeader(t, nodes, 3*time.Second)

	if !leader.ConfirmLeadership(context.Background()) {
		t.Fatal("expected ConfirmLeadership to succeed with a reachable quorum")
	}
}

func TestConfirmLeadershipFailsWhenIsolated(t *testing.T) {
	nodes, cluster := buildCluster(t, 3)
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}
	leader := waitForLeader(t, nodes, 3*time.Second)
	cluster.partition(leader.ID().String(), true)
	defer cluster.partition(leader.ID().String(), false)

	if leader.ConfirmLeadership(context.Background()) {
		t.Fatal("expected ConfirmLeadership to fail once the leader is cut off from every peer")
	}
}

func TestProposeConfigChangeAddsMemberOnCommit(t *testing.T) {
	nodes, _ := buildCluster(t, 1)
	nodes[0].Start()
	defer nodes[0].Stop()

	leader := waitForLeader(t, nodes, 2*time.Second)
	newMember := id.New()

	idx, err := leader.ProposeConfigChange(ConfigChange{
		Op:      ConfigChangeAddMember,
		Member:  newMember,
		Address: "10.0.0.9:7000",
	})
	if err != nil {
		t.Fatalf("unexpected error proposing config change: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if leader.CommitIndex() >= idx {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if leader.CommitIndex() < idx {
		t.Fatalf("config change entry at index %d never committed", idx)
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if leader.registry.TryGet(newMember) != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected the registry to gain the new member once the configuration entry applied")
}

func TestTermStepDownOnHigherTermVoteRequest(t *testing.T) {
	nodes, _ := buildCluster(t, 3)
	for _, n := range nodes {
		n.Start()
		defer n.Stop()
	}
	leaderA := waitForLeader(t, nodes, 3*time.Second)

	// Simulate node B starting a new election at a higher term while A
	// is still reachable.
	var other *Node
	for _, n := range nodes {
		if n != leaderA {
			other = n
			break
		}
	}
	higherTerm := leaderA.CurrentTerm() + 5
	// B's log is as up to date as A's, so the up-to-date check passes.
	resp := leaderA.Vote(&RequestVoteRequest{
		CandidateID:  other.ID(),
		Term:         higherTerm,
		LastLogIndex: leaderA.store.LastIndex(),
		LastLogTerm:  leaderA.store.LastTerm(),
	})

	if !resp.Granted {
		t.Fatalf("expected leader to grant vote after stepping down, got %+v", resp)
	}
	if leaderA.Role() != RoleFollower {
		t.Fatalf("expected former leader to step down to Follower, got %s", leaderA.Role())
	}
	if leaderA.CurrentTerm() != higherTerm {
		t.Fatalf("expected term to adopt %d, got %d", higherTerm, leaderA.CurrentTerm())
	}
}
