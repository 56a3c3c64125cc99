package rpcdispatch

import (
	"net"
	"sync/atomic"
)

// ACL is the AllowedNetworks set from spec.md §3: an immutable set of
// CIDR blocks, replaced atomically so no partial update is ever
// visible to a concurrently-dispatching request. Grounded on
// cuemby-warren's pkg/ingress/middleware.go CheckAccessControl, which
// matches a client IP against CIDR allow/deny lists the same way.
type ACL struct {
	nets atomic.Pointer[[]*net.IPNet]
}

// NewACL builds an ACL from a set of CIDR strings. An empty set means
// "no restriction" (every remote IP is allowed), matching spec.md
// §4.7 step 1's "non-empty" condition.
func NewACL(cidrs []string) (*ACL, error) {
	a := &ACL{}
	if err := a.Replace(cidrs); err != nil {
		return nil, err
	}
	return a, nil
}

// Replace atomically swaps in a new CIDR set.
func (a *ACL) Replace(cidrs []string) error {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return err
		}
		nets = append(nets, n)
	}
	a.nets.Store(&nets)
	return nil
}

// Allow reports whether ip is permitted. An empty configured set
// allows everything.
func (a *ACL) Allow(ip net.IP) bool {
	nets := a.nets.Load()
	if nets == nil || len(*nets) == 0 {
		return true
	}
	for _, n := range *nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
