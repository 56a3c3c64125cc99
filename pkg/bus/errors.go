package bus

import "errors"

// Error kinds from spec.md §7. These propagate to RPC Dispatcher callers
// except where noted; the leader-router loop treats MemberUnavailable and
// the two status codes below as internally retried conditions.
var (
	// ErrLeaderUnavailable means no leader is currently known.
	ErrLeaderUnavailable = errors.New("bus: no leader currently known")

	// ErrMemberUnavailable means the transport failed to reach a specific
	// peer (timeout, connection refused, partition).
	ErrMemberUnavailable = errors.New("bus: member unreachable")

	// ErrNotImplemented means no local handler claims the signal.
	ErrNotImplemented = errors.New("bus: no handler registered for signal")

	// ErrOperationCanceled means the caller's token (or the node's
	// lifecycle token it is linked to) was cancelled before completion.
	ErrOperationCanceled = errors.New("bus: operation canceled")

	// ErrForbidden names the ACL rejection. The RPC Dispatcher answers
	// such requests with a 403 status before they reach the bus; it
	// does not return this error.
	ErrForbidden = errors.New("bus: blocked by network ACL")
)

// RemoteStatus is the small set of peer status codes the leader-router
// loop understands semantically (spec.md §7): BadRequest and
// ServiceUnavailable drive a retry: the rest surface as-is.
type RemoteStatus int

const (
	StatusOK RemoteStatus = iota
	StatusAccepted
	StatusBadRequest
	StatusNotFound
	StatusNotImplemented
	StatusForbidden
	StatusServiceUnavailable
)

// UnexpectedStatusError wraps a peer status the core understood but that
// did not fit a typed error above.
type UnexpectedStatusError struct {
	Code RemoteStatus
}

func (e *UnexpectedStatusError) Error() string {
	return "bus: unexpected remote status"
}
