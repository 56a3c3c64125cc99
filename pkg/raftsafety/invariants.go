// Package raftsafety checks the cross-node safety invariants a Raft
// cluster must uphold, independent of any one node's internal state:
// that no two nodes ever commit different entries at the same index,
// that a node's own commit index never walks backwards, and that
// terms never decrease as log index increases. It is test
// infrastructure, not something cmd/node wires at runtime.
//
// Adapted from the teacher's pkg/testing/invariant_checker.go: the
// same three checks, ported from its Command-typed CommittedEntry
// onto this module's opaque LogEntry.Payload (there is no application
// state machine here to compare SET values against, so entries are
// compared by raw payload bytes instead).
package raftsafety

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/vzdtic/raftcore/pkg/raft"
)

// CommittedEntry is one (index, term, payload) tuple a node has
// advanced its commit index past.
type CommittedEntry struct {
	Index   raft.LogIndex
	Term    raft.Term
	Payload []byte
}

// Violation describes one broken invariant.
type Violation struct {
	Kind    string
	Message string
}

// Checker accumulates committed entries observed across a cluster's
// nodes and checks them for safety-invariant violations.
type Checker struct {
	mu         sync.Mutex
	committed  map[string][]CommittedEntry
	violations []Violation
}

// New returns an empty Checker.
func New() *Checker {
	return &Checker{committed: make(map[string][]CommittedEntry)}
}

// Collect pulls every entry up to commitIndex out of store and
// records it as committed by nodeID. Call this once per node after
// each node has had a chance to apply its log.
func (c *Checker) Collect(nodeID string, store raft.Store, commitIndex raft.LogIndex) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range store.Entries(1, commitIndex) {
		c.committed[nodeID] = append(c.committed[nodeID], CommittedEntry{
			Index: e.Index, Term: e.Term, Payload: e.Payload,
		})
	}
}

// Check runs all safety invariants over everything collected so far
// and returns whether the cluster is consistent, plus the violations
// found (nil/empty when ok is true).
func (c *Checker) Check() (ok bool, violations []Violation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.violations = nil
	c.checkLogMatching()
	c.checkMonotonicCommit()
	c.checkTermConsistency()
	return len(c.violations) == 0, c.violations
}

// Reset discards everything collected so far.
func (c *Checker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = make(map[string][]CommittedEntry)
	c.violations = nil
}

// checkLogMatching verifies every node that has committed a given
// index agrees on its term and payload (the State Machine Safety
// property).
func (c *Checker) checkLogMatching() {
	byIndex := make(map[raft.LogIndex]map[string]CommittedEntry)
	for nodeID, entries := range c.committed {
		for _, e := range entries {
			if byIndex[e.Index] == nil {
				byIndex[e.Index] = make(map[string]CommittedEntry)
			}
			byIndex[e.Index][nodeID] = e
		}
	}

	for index, byNode := range byIndex {
		var refNode string
		var ref CommittedEntry
		haveRef := false
		for nodeID, e := range byNode {
			if !haveRef {
				refNode, ref, haveRef = nodeID, e, true
				continue
			}
			if e.Term != ref.Term || !bytes.Equal(e.Payload, ref.Payload) {
				c.violations = append(c.violations, Violation{
					Kind: "log_matching",
					Message: fmt.Sprintf("index %d: node %s has (term=%d payload=%q), node %s has (term=%d payload=%q)",
						index, refNode, ref.Term, ref.Payload, nodeID, e.Term, e.Payload),
				})
			}
		}
	}
}

// checkMonotonicCommit verifies each node's committed indices never
// run backwards.
func (c *Checker) checkMonotonicCommit() {
	for nodeID, entries := range c.committed {
		var last raft.LogIndex
		for _, e := range entries {
			if e.Index < last {
				c.violations = append(c.violations, Violation{
					Kind:    "non_monotonic_commit",
					Message: fmt.Sprintf("node %s committed index %d after index %d", nodeID, e.Index, last),
				})
			}
			last = e.Index
		}
	}
}

// checkTermConsistency verifies term never decreases as index
// increases within one node's committed sequence.
func (c *Checker) checkTermConsistency() {
	for nodeID, entries := range c.committed {
		for i := 1; i < len(entries); i++ {
			prev, curr := entries[i-1], entries[i]
			if curr.Index > prev.Index && curr.Term < prev.Term {
				c.violations = append(c.violations, Violation{
					Kind: "term_consistency",
					Message: fmt.Sprintf("node %s has term %d at index %d but term %d at higher index %d",
						nodeID, prev.Term, prev.Index, curr.Term, curr.Index),
				})
			}
		}
	}
}
