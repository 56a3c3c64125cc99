package raft

import (
	"encoding/json"

	"github.com/vzdtic/raftcore/pkg/id"
)

// ConfigChangeOp distinguishes adding a voting member from removing
// one. This is the single-entry membership change the core exposes
// (spec.md §1) — not a full joint-consensus algorithm.
type ConfigChangeOp int

const (
	ConfigChangeAddMember ConfigChangeOp = iota
	ConfigChangeRemoveMember
)

// ConfigChange is the payload of an EntryConfiguration log entry. It
// is replicated and applied like any other entry: only once a
// majority has persisted it, and the leader's own commit-index
// advancement runs it, does the local Member Registry change.
type ConfigChange struct {
	Op      ConfigChangeOp
	Member  id.NodeID
	Address string
}

// ProposeConfigChange appends an EntryConfiguration entry to the
// leader's own log in the current term, exactly like the no-op
// appended on a leadership transition. The caller must watch
// CommitIndex to learn when the change has taken effect; propose does
// not block on replication.
func (n *Node) ProposeConfigChange(change ConfigChange) (LogIndex, error) {
	n.state.transMu.Lock()
	if n.state.role.Read() != RoleLeader {
		n.state.transMu.Unlock()
		return 0, ErrNotLeader
	}
	term := n.state.term.Read()
	n.state.transMu.Unlock()

	payload, err := json.Marshal(change)
	if err != nil {
		return 0, err
	}
	entry := LogEntry{
		Term:    term,
		Index:   n.store.LastIndex() + 1,
		Kind:    EntryConfiguration,
		Payload: payload,
	}
	if err := n.store.Append([]LogEntry{entry}); err != nil {
		return 0, err
	}
	return entry.Index, nil
}

// applyConfigChange decodes and applies a committed EntryConfiguration
// entry to the Member Registry. Errors are swallowed to a log line:
// a malformed configuration entry must not wedge commit-index
// advancement for every entry that follows it.
func (n *Node) applyConfigChange(e LogEntry) {
	var change ConfigChange
	if err := json.Unmarshal(e.Payload, &change); err != nil {
		n.logger.Error().Err(err).Uint64("index", uint64(e.Index)).Msg("malformed configuration entry")
		return
	}
	switch change.Op {
	case ConfigChangeAddMember:
		n.registry.AddMember(change.Member, change.Address, change.Member != n.self)
	case ConfigChangeRemoveMember:
		if change.Member == n.self {
			return
		}
		n.registry.RemoveMember(change.Member)
	}
}
