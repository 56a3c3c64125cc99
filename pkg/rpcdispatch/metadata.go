package rpcdispatch

import "sync/atomic"

// atomicMetadata publishes spec.md §3's MemberMetadata (an opaque
// key/value map replicated to callers via the Metadata RPC) as an
// immutable snapshot, mutated only by the local operator through
// Dispatcher.SetMetadata.
type atomicMetadata struct {
	ptr atomic.Pointer[map[string]string]
}

func newAtomicMetadata() *atomicMetadata {
	m := &atomicMetadata{}
	empty := map[string]string{}
	m.ptr.Store(&empty)
	return m
}

func (m *atomicMetadata) store(v map[string]string) {
	cp := make(map[string]string, len(v))
	for k, val := range v {
		cp[k] = val
	}
	m.ptr.Store(&cp)
}

func (m *atomicMetadata) load() map[string]string {
	return *m.ptr.Load()
}
