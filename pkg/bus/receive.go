package bus

import (
	"context"

	"github.com/vzdtic/raftcore/pkg/dedup"
)

func dedupKey(msg *Message) dedup.Key {
	return dedup.Key{SenderID: msg.SenderID, MessageID: msg.MessageID}
}

// Receive is the server-side entry point for an inbound Custom message
// (invoked by the RPC Dispatcher after ACL and decode, spec.md §4.7).
// It returns the reply (RequestReply only), the status to write on the
// wire, and an error for the dispatcher to log.
//
// RespectLeadership is honored here, not in the dispatcher, because
// only the bus knows whether a message is a Custom signal at all.
// LinearizableRead additionally runs a ReadIndex-style
// heartbeat-confirmation round (Node.ConfirmLeadership) before a
// RequestReply is allowed to answer from local state, so a leader
// that has lost its quorum without yet stepping down cannot serve a
// stale read.
func (b *Bus) Receive(ctx context.Context, msg *Message) (*Reply, RemoteStatus, error) {
	if msg.RespectLeadership && !b.node.IsLeader() {
		return nil, StatusServiceUnavailable, ErrLeaderUnavailable
	}
	if msg.RespectLeadership && msg.LinearizableRead && msg.Mode == RequestReply {
		if !b.node.ConfirmLeadership(ctx) {
			return nil, StatusServiceUnavailable, ErrLeaderUnavailable
		}
	}

	switch msg.Mode {
	case RequestReply:
		reply, err := dispatch(b.handlers.Snapshot(), ctxAdapter{ctx}, msg)
		if err != nil {
			return nil, StatusNotImplemented, err
		}
		return reply, StatusOK, nil

	case OneWay:
		if b.isDuplicate(msg) {
			return nil, StatusAccepted, nil
		}
		if _, err := dispatch(b.handlers.Snapshot(), ctxAdapter{ctx}, msg); err != nil {
			return nil, StatusNotImplemented, err
		}
		return nil, StatusAccepted, nil

	case OneWayNoAck:
		return b.receiveOneWayNoAck(ctx, msg)

	default:
		return nil, StatusBadRequest, ErrNotImplemented
	}
}

// receiveOneWayNoAck implements the fast-ack path from spec.md §4.6's
// closing paragraph: a handler must exist before the request can be
// accepted (the §9 open question this spec resolves as 501-if-absent),
// duplicates are acked without re-invoking the handler, and otherwise
// acceptance happens before the handler runs so the dispatcher's
// response write is never blocked on handler latency.
func (b *Bus) receiveOneWayNoAck(ctx context.Context, msg *Message) (*Reply, RemoteStatus, error) {
	snapshot := b.handlers.Snapshot()
	var claimed Handler
	for _, h := range snapshot {
		if h.Supports(msg) {
			claimed = h
			break
		}
	}
	if claimed == nil {
		return nil, StatusNotImplemented, ErrNotImplemented
	}
	if b.isDuplicate(msg) {
		return nil, StatusAccepted, nil
	}

	go func(h Handler) {
		if _, err := h.Handle(ctxAdapter{ctx}, msg); err != nil {
			b.logger.Error().Err(err).Str("name", msg.Name).Msg("post-response handler invocation failed")
		}
	}(claimed)

	return nil, StatusAccepted, nil
}

func (b *Bus) isDuplicate(msg *Message) bool {
	if b.dedup == nil {
		return false
	}
	return b.dedup.IsDuplicate(dedupKey(msg))
}
