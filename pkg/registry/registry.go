// Package registry implements the Member Registry: the set of known
// peers, their addresses, liveness timestamps, and remote/local flag.
// It exclusively owns per-peer liveness and leader-replication
// progress counters, though only the Leader role writes progress.
package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzdtic/raftcore/pkg/id"
)

// Member is a known cluster peer.
type Member struct {
	ID       id.NodeID
	Address  string
	IsRemote bool

	lastContact atomic.Int64 // unix nanos

	mu         sync.RWMutex
	nextIndex  uint64
	matchIndex uint64
	inflight   bool
}

// LastContact returns the last time this member was heard from.
func (m *Member) LastContact() time.Time {
	ns := m.lastContact.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (m *Member) touch(at time.Time) {
	m.lastContact.Store(at.UnixNano())
}

// NextIndex returns the replication next-index for this member.
// Meaningful only while the local node is Leader.
func (m *Member) NextIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextIndex
}

// SetNextIndex sets the replication next-index for this member.
func (m *Member) SetNextIndex(v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextIndex = v
}

// MatchIndex returns the highest log index known replicated to this
// member.
func (m *Member) MatchIndex() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.matchIndex
}

// SetMatchIndex sets the highest log index known replicated to this
// member.
func (m *Member) SetMatchIndex(v uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matchIndex = v
}

// Inflight reports whether a replication RPC to this member is
// currently outstanding.
func (m *Member) Inflight() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inflight
}

// SetInflight marks whether a replication RPC to this member is
// outstanding.
func (m *Member) SetInflight(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight = v
}

// Registry is the set of known cluster members. No operation blocks.
type Registry struct {
	mu      sync.RWMutex
	members map[id.NodeID]*Member
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{members: make(map[id.NodeID]*Member)}
}

// TryGet returns the member for id, or nil if unknown.
func (r *Registry) TryGet(nodeID id.NodeID) *Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[nodeID]
}

// Touch updates the liveness timestamp for a known member. It is a
// no-op if the member is unknown. This is the liveness signal and
// must be called on every successfully parsed inbound RPC whose
// sender is a known member, regardless of the RPC's outcome.
func (r *Registry) Touch(nodeID id.NodeID) {
	r.mu.RLock()
	m := r.members[nodeID]
	r.mu.RUnlock()
	if m != nil {
		m.touch(time.Now())
	}
}

// AddMember registers a new peer. Re-adding an existing ID replaces
// its address/remote flag but preserves liveness and progress state.
func (r *Registry) AddMember(nodeID id.NodeID, address string, isRemote bool) *Member {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.members[nodeID]; ok {
		existing.Address = address
		existing.IsRemote = isRemote
		return existing
	}
	m := &Member{ID: nodeID, Address: address, IsRemote: isRemote}
	r.members[nodeID] = m
	return m
}

// RemoveMember drops a peer from the registry.
func (r *Registry) RemoveMember(nodeID id.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, nodeID)
}

// Members returns a snapshot slice of all known members.
func (r *Registry) Members() []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

// Len reports the number of known members.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
