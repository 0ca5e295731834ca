/*
	This file defines the identifiers shared by the graph, feature and
	mapping packages.
*/

package np

import "fmt"

// NodeID is a 64 bit region label.  Label 0 is background and is never a node.
type NodeID uint64

// EdgeKey identifies the edge between two nodes.  The smaller ID is always first.
type EdgeKey struct {
	N1 NodeID
	N2 NodeID
}

// NewEdgeKey returns the canonical key for the unordered pair (a, b).
func NewEdgeKey(a, b NodeID) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{a, b}
}

// Less orders keys by first then second node.
func (k EdgeKey) Less(other EdgeKey) bool {
	if k.N1 != other.N1 {
		return k.N1 < other.N1
	}
	return k.N2 < other.N2
}

// Has returns true if id is one of the endpoints.
func (k EdgeKey) Has(id NodeID) bool {
	return k.N1 == id || k.N2 == id
}

// Other returns the endpoint opposite id.
func (k EdgeKey) Other(id NodeID) NodeID {
	if k.N1 == id {
		return k.N2
	}
	return k.N1
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("(%d, %d)", k.N1, k.N2)
}
