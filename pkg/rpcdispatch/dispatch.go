// Package rpcdispatch implements the RPC Dispatcher (spec.md §4.7): it
// enforces the network ACL, attaches the Duplicate Request Detector to
// each request, switches on message kind to the Raft State Machine or
// Message Bus handler, and writes the exact status code spec.md §4.7
// requires for wire compatibility.
package rpcdispatch

import (
	"net"

	"github.com/rs/zerolog"

	"github.com/vzdtic/raftcore/pkg/bus"
	"github.com/vzdtic/raftcore/pkg/dedup"
	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/raft"
	"github.com/vzdtic/raftcore/pkg/registry"
)

// MessageKind selects which handler a request is routed to.
type MessageKind int

const (
	KindRequestVote MessageKind = iota
	KindPreVote
	KindAppendEntries
	KindInstallSnapshot
	KindResign
	KindMetadata
	KindCustom
	kindUnknown
)

// StatusCode is the exact wire status from spec.md §4.7's table.
type StatusCode int

const (
	StatusSuccess          StatusCode = 200
	StatusAccepted         StatusCode = 204
	StatusBadRequest       StatusCode = 400
	StatusNotFound         StatusCode = 404
	StatusNotImplemented   StatusCode = 501
	StatusForbidden        StatusCode = 403
	StatusServiceUnavailable StatusCode = 503
)

// Request is the parsed inbound envelope the Dispatcher acts on. Exactly
// one of the typed payload fields is populated, selected by Kind.
type Request struct {
	Kind       MessageKind
	RemoteIP   net.IP
	SenderID   id.NodeID
	SenderKnown bool

	Vote            *raft.RequestVoteRequest
	PreVote         *raft.PreVoteRequest
	AppendEntries   *raft.AppendEntriesRequest
	InstallSnapshot *raft.InstallSnapshotRequest
	Custom          *bus.Message
}

// Response is what the Dispatcher hands back for the transport layer
// to write onto the wire.
type Response struct {
	Status StatusCode
	Vote            *raft.RequestVoteResponse
	PreVote         *raft.PreVoteResponse
	AppendEntries   *raft.AppendEntriesResponse
	InstallSnapshot *raft.InstallSnapshotResponse
	Resign          *raft.ResignResponse
	Metadata        map[string]string
	CustomReply     *bus.Reply
}

// Dispatcher wires the ACL, Member Registry, Raft State Machine, and
// Message Bus together per request (spec.md §4.7's 4-step flow).
type Dispatcher struct {
	node     *raft.Node
	bus      *bus.Bus
	registry *registry.Registry
	detector *dedup.Detector
	acl      *ACL
	limiter  *RateLimiter
	metadata *atomicMetadata
	logger   zerolog.Logger
}

// New constructs a Dispatcher. acl may be nil to mean "no restriction".
func New(node *raft.Node, b *bus.Bus, reg *registry.Registry, detector *dedup.Detector, acl *ACL, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		node:     node,
		bus:      b,
		registry: reg,
		detector: detector,
		acl:      acl,
		metadata: newAtomicMetadata(),
		logger:   logger,
	}
}

// SetMetadata atomically replaces the exposed member metadata map
// (spec.md §3's MemberMetadata, mutated only by the local operator).
func (d *Dispatcher) SetMetadata(m map[string]string) { d.metadata.store(m) }

// SetRateLimiter installs a per-sender rate limiter; nil (the
// default) disables rate limiting entirely.
func (d *Dispatcher) SetRateLimiter(limiter *RateLimiter) { d.limiter = limiter }

// Dispatch runs the four-step flow from spec.md §4.7.
func (d *Dispatcher) Dispatch(req *Request) *Response {
	// Step 1: ACL.
	if d.acl != nil && !d.acl.Allow(req.RemoteIP) {
		return &Response{Status: StatusForbidden}
	}

	// A sender unknown to the registry yields 404 without state change.
	if !req.SenderKnown {
		return &Response{Status: StatusNotFound}
	}

	if d.limiter != nil && !d.limiter.Allow(req.SenderID) {
		return &Response{Status: StatusServiceUnavailable}
	}

	// Step 2 (dedup attachment) happens implicitly: handlers that need
	// duplicate suppression (bus.Receive for OneWay/OneWayNoAck) consult
	// d.detector through the Bus, which was constructed with it.

	resp := d.route(req)

	// Step 4: touch liveness for a known sender regardless of outcome.
	if req.SenderKnown {
		d.registry.Touch(req.SenderID)
	}
	return resp
}

func (d *Dispatcher) route(req *Request) *Response {
	switch req.Kind {
	case KindRequestVote:
		if req.Vote == nil {
			return &Response{Status: StatusBadRequest}
		}
		return &Response{Status: StatusSuccess, Vote: d.node.Vote(req.Vote)}

	case KindPreVote:
		if req.PreVote == nil {
			return &Response{Status: StatusBadRequest}
		}
		return &Response{Status: StatusSuccess, PreVote: d.node.PreVote(req.PreVote)}

	case KindAppendEntries:
		if req.AppendEntries == nil {
			return &Response{Status: StatusBadRequest}
		}
		return &Response{Status: StatusSuccess, AppendEntries: d.node.AppendEntries(req.AppendEntries)}

	case KindInstallSnapshot:
		if req.InstallSnapshot == nil {
			return &Response{Status: StatusBadRequest}
		}
		return &Response{Status: StatusSuccess, InstallSnapshot: d.node.InstallSnapshot(req.InstallSnapshot)}

	case KindResign:
		return &Response{Status: StatusSuccess, Resign: d.node.Resign()}

	case KindMetadata:
		return &Response{Status: StatusSuccess, Metadata: d.metadata.load()}

	case KindCustom:
		if req.Custom == nil {
			return &Response{Status: StatusBadRequest}
		}
		reply, status, err := d.bus.Receive(d.node.LifecycleContext(), req.Custom)
		if err != nil {
			d.logger.Debug().Err(err).Str("name", req.Custom.Name).Msg("custom message handling failed")
		}
		out := &Response{Status: fromBusStatus(status)}
		if req.Custom.Mode == bus.RequestReply {
			out.CustomReply = reply
		}
		return out

	default:
		return &Response{Status: StatusBadRequest}
	}
}

func fromBusStatus(s bus.RemoteStatus) StatusCode {
	switch s {
	case bus.StatusOK:
		return StatusSuccess
	case bus.StatusAccepted:
		return StatusAccepted
	case bus.StatusBadRequest:
		return StatusBadRequest
	case bus.StatusNotFound:
		return StatusNotFound
	case bus.StatusNotImplemented:
		return StatusNotImplemented
	case bus.StatusForbidden:
		return StatusForbidden
	case bus.StatusServiceUnavailable:
		return StatusServiceUnavailable
	default:
		return StatusBadRequest
	}
}
