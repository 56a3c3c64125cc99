// Package id defines the opaque node identity used across the
// consensus core.
package id

import "github.com/google/uuid"

// NodeID is an opaque, equality-comparable, hashable 128-bit node
// identity. It is assigned once at startup and never changes for the
// lifetime of a node.
type NodeID uuid.UUID

// Nil is the zero NodeID, used to represent "no leader"/"unknown".
var Nil = NodeID(uuid.Nil)

// New generates a fresh random NodeID.
func New() NodeID {
	return NodeID(uuid.New())
}

// Parse parses a canonical UUID string into a NodeID.
func Parse(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, err
	}
	return NodeID(u), nil
}

func (n NodeID) String() string {
	return uuid.UUID(n).String()
}

// IsNil reports whether n is the zero identity.
func (n NodeID) IsNil() bool {
	return n == Nil
}
