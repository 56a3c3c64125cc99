package bus

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vzdtic/raftcore/pkg/dedup"
	"github.com/vzdtic/raftcore/pkg/id"
	"github.com/vzdtic/raftcore/pkg/raft"
	"github.com/vzdtic/raftcore/pkg/registry"
)

// LeaderTransport sends a Custom application message to a remote peer
// and reports the peer's status code alongside any transport-level
// error (spec.md §4.7's status table, as observed by the caller).
type LeaderTransport interface {
	SendCustom(ctx context.Context, peerAddr string, msg *Message) (*Reply, RemoteStatus, error)
}

// retryBackoff is the pause between leader-router retry iterations; it
// is deliberately small since the loop is bounded by ctx cancellation,
// not by an attempt counter (spec.md §4.6 step 5).
const retryBackoff = 10 * time.Millisecond

// Bus is the Message Bus Overlay: the local handler list plus the
// LeaderRouter that forwards application messages to the current
// leader, retrying across leader changes (spec.md §4.6).
type Bus struct {
	self      id.NodeID
	node      *raft.Node
	registry  *registry.Registry
	transport LeaderTransport
	dedup     *dedup.Detector
	handlers  *handlerList
	logger    zerolog.Logger
}

// New constructs a Bus bound to node's leader/role view, reg for
// address resolution, transport for remote delivery, and detector for
// at-most-once suppression of OneWay(NoAck) deliveries.
func New(self id.NodeID, node *raft.Node, reg *registry.Registry, transport LeaderTransport, detector *dedup.Detector, logger zerolog.Logger) *Bus {
	return &Bus{
		self:      self,
		node:      node,
		registry:  reg,
		transport: transport,
		dedup:     detector,
		handlers:  newHandlerList(),
		logger:    logger,
	}
}

// AddListener subscribes h, publishing a new immutable handler list.
func (b *Bus) AddListener(h Handler) { b.handlers.Add(h) }

// RemoveListener unsubscribes the first handler for which equal
// reports true.
func (b *Bus) RemoveListener(equal func(Handler) bool) { b.handlers.Remove(equal) }

// ctxAdapter lets a context.Context satisfy HandlerContext without
// forcing every Handler implementation to import context directly.
type ctxAdapter struct{ context.Context }

func (c ctxAdapter) Done() <-chan struct{} { return c.Context.Done() }
func (c ctxAdapter) Err() error            { return c.Context.Err() }

// linkContext joins caller's token with the node's lifecycle token:
// cancelling either cancels the returned context (spec.md §5, §9).
func linkContext(caller, lifecycle context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(caller)
	stop := make(chan struct{})
	go func() {
		select {
		case <-lifecycle.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
