package bus

import (
	"context"
	"time"
)

// Send runs the leader-router loop from spec.md §4.6 for RequestReply
// and OneWay messages: capture a linked token, read Leader, dispatch
// remote or local, retry on MemberUnavailable / BadRequest(RequestReply)
// / ServiceUnavailable, loop until success or cancellation.
//
// A currently-unknown leader (LeaderUnavailable) is treated as a
// retryable condition rather than an immediate failure: this spec's
// end-to-end scenario 5 (leader failover mid-request) requires the
// router to ride out the brief window between a leader crashing and
// its successor completing an election, which is exactly when Leader
// reads as unset.
func (b *Bus) Send(ctx context.Context, msg *Message) (*Reply, error) {
	linked, cancel := linkContext(ctx, b.node.LifecycleContext())
	defer cancel()

	for {
		if linked.Err() != nil {
			return nil, ErrOperationCanceled
		}

		leader := b.node.LeaderHint()
		if leader.IsNil() {
			if !b.sleepOrCancel(linked) {
				return nil, ErrOperationCanceled
			}
			continue
		}

		var (
			reply  *Reply
			status RemoteStatus
			err    error
		)
		if leader == b.self {
			reply, err = dispatch(b.handlers.Snapshot(), ctxAdapter{linked}, msg)
			if err != nil {
				return nil, err
			}
			status = StatusOK
		} else {
			member := b.registry.TryGet(leader)
			if member == nil {
				if !b.sleepOrCancel(linked) {
					return nil, ErrOperationCanceled
				}
				continue
			}
			reply, status, err = b.transport.SendCustom(linked, member.Address, msg)
			if err != nil {
				b.logger.Warn().Err(err).Str("leader", leader.String()).Msg("leader unreachable, retrying")
				if !b.sleepOrCancel(linked) {
					return nil, ErrOperationCanceled
				}
				continue
			}
		}

		if status == StatusBadRequest && msg.Mode == RequestReply {
			b.logger.Debug().Msg("leader rejected request-reply as bad request, retrying against current leader")
			if !b.sleepOrCancel(linked) {
				return nil, ErrOperationCanceled
			}
			continue
		}
		if status == StatusServiceUnavailable {
			b.logger.Debug().Msg("receiver is not leader, retrying after refreshing leader hint")
			if !b.sleepOrCancel(linked) {
				return nil, ErrOperationCanceled
			}
			continue
		}

		return reply, nil
	}
}

func (b *Bus) sleepOrCancel(ctx context.Context) bool {
	t := time.NewTimer(retryBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
