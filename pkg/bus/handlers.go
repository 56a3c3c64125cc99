package bus

import "sync/atomic"

// handlerList is the immutable, ordered list of input-channel handlers.
// Subscription and removal copy-and-swap a new slice; readers that have
// already captured a reference via Snapshot never observe a mutation
// (spec.md §4.6, §9 "Copy-on-write immutable snapshots").
type handlerList struct {
	ptr atomic.Pointer[[]Handler]
}

func newHandlerList() *handlerList {
	hl := &handlerList{}
	empty := make([]Handler, 0)
	hl.ptr.Store(&empty)
	return hl
}

// Snapshot returns the current handler slice. The caller must not
// mutate it; it is shared and immutable by convention.
func (hl *handlerList) Snapshot() []Handler {
	return *hl.ptr.Load()
}

// Add appends h, publishing a new list atomically. Never mutates the
// slice previously handed out by Snapshot.
func (hl *handlerList) Add(h Handler) {
	for {
		old := hl.ptr.Load()
		next := make([]Handler, len(*old)+1)
		copy(next, *old)
		next[len(*old)] = h
		if hl.ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Remove drops the first handler for which equal(h) is true, publishing
// a new list atomically. A no-op if no handler matches.
func (hl *handlerList) Remove(equal func(Handler) bool) {
	for {
		old := hl.ptr.Load()
		idx := -1
		for i, h := range *old {
			if equal(h) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		next := make([]Handler, 0, len(*old)-1)
		next = append(next, (*old)[:idx]...)
		next = append(next, (*old)[idx+1:]...)
		if hl.ptr.CompareAndSwap(old, &next) {
			return
		}
	}
}

// dispatch tries handlers in subscription order; the first one that
// claims the message wins (spec.md §4.6). Returns ErrNotImplemented if
// none claim it.
func dispatch(snapshot []Handler, ctx HandlerContext, msg *Message) (*Reply, error) {
	for _, h := range snapshot {
		if h.Supports(msg) {
			return h.Handle(ctx, msg)
		}
	}
	return nil, ErrNotImplemented
}
