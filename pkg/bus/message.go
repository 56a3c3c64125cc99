package bus

import "github.com/vzdtic/raftcore/pkg/id"

// DeliveryMode selects how a Custom application message is delivered
// (spec.md §4.6).
type DeliveryMode int

const (
	// RequestReply sends to the leader and awaits a response payload.
	RequestReply DeliveryMode = iota
	// OneWay sends to the leader; the caller does not await a payload,
	// only acceptance.
	OneWay
	// OneWayNoAck is fire-and-forget: the receiver acks immediately and
	// schedules processing after the response is written.
	OneWayNoAck
)

func (m DeliveryMode) String() string {
	switch m {
	case RequestReply:
		return "RequestReply"
	case OneWay:
		return "OneWay"
	case OneWayNoAck:
		return "OneWayNoAck"
	default:
		return "Unknown"
	}
}

// Message is a Custom application message travelling through the bus.
// SenderID/MessageID together form the DuplicateKey used for
// at-most-once delivery under retry (spec.md §4.6).
type Message struct {
	SenderID         id.NodeID
	MessageID        uint64
	Mode             DeliveryMode
	RespectLeadership bool
	// LinearizableRead additionally requires a ReadIndex-style
	// heartbeat-confirmation round before a RequestReply message is
	// allowed to answer from local state. Ignored unless
	// RespectLeadership is also set; meaningless outside RequestReply.
	LinearizableRead bool
	Name             string
	ContentType      string
	Payload          []byte
}

// Reply is the response to a RequestReply message.
type Reply struct {
	Payload     []byte
	ContentType string
}

// Handler is an input-channel listener. Supports reports whether this
// handler claims the message (by signal-name match or an
// isSignalSupported-style predicate); Handle performs the work.
type Handler interface {
	Supports(msg *Message) bool
	Handle(ctx HandlerContext, msg *Message) (*Reply, error)
}

// HandlerContext is the minimal context threaded into a Handler: the
// request's (possibly linked) cancellation token.
type HandlerContext interface {
	Done() <-chan struct{}
	Err() error
}

// HandlerFunc adapts a plain function to the Handler interface for
// handlers that match by message name alone.
type HandlerFunc struct {
	Name string
	Fn   func(ctx HandlerContext, msg *Message) (*Reply, error)
}

func (h HandlerFunc) Supports(msg *Message) bool { return msg.Name == h.Name }

func (h HandlerFunc) Handle(ctx HandlerContext, msg *Message) (*Reply, error) {
	return h.Fn(ctx, msg)
}
