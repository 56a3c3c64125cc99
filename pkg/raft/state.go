package raft

import (
	"sync"
	"time"

	"github.com/vzdtic/raftcore/pkg/atomiccell"
	"github.com/vzdtic/raftcore/pkg/id"
)

// state holds everything the Raft State Machine exclusively owns:
// role, term, votedFor, and the election/heartbeat timers. Role, term
// and the leader hint are atomic cells so other components can read
// them without blocking; composite transitions ("observe higher term
// → step down → clear votedFor → stop timers") are serialized through
// transMu so they appear atomic to any concurrent reader.
type state struct {
	transMu sync.Mutex

	role       *atomiccell.Cell[RoleTag]
	term       *atomiccell.Cell[Term]
	leaderHint *atomiccell.Cell[id.NodeID]

	// votedFor and votedForTerm are only ever mutated inside transMu;
	// reads outside the critical section are stale-tolerant (the
	// caller is only ever the same serialized vote() path).
	votedFor     string
	votedForTerm Term

	votesReceived map[id.NodeID]bool

	timerMu         sync.Mutex
	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker
}

func newState() *state {
	return &state{
		role:       atomiccell.New(RoleStandby),
		term:       atomiccell.New(Term(0)),
		leaderHint: atomiccell.New(id.Nil),
	}
}

func (s *state) Role() RoleTag   { return s.role.Read() }
func (s *state) CurrentTerm() Term { return s.term.Read() }
func (s *state) LeaderHint() id.NodeID { return s.leaderHint.Read() }

// stepDownLocked transitions to Follower at newTerm and clears
// votedFor. Caller must hold transMu. It is idempotent: calling it
// again with the same or lower term is a no-op beyond forcing the
// role to Follower.
func (s *state) stepDownLocked(newTerm Term) {
	if newTerm > s.term.Read() {
		s.term.Write(newTerm)
		s.votedFor = ""
		s.votedForTerm = newTerm
	}
	s.role.Write(RoleFollower)
	s.votesReceived = nil
}
