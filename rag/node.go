package rag

import "github.com/janelia-flyem/NeuroProof-sub000/np"

type NodeID = np.NodeID
type EdgeKey = np.EdgeKey

// NewEdgeKey returns the canonical key for the unordered pair (a, b).
func NewEdgeKey(a, b NodeID) EdgeKey {
	return np.NewEdgeKey(a, b)
}

// MitoType classifies a region as mitochondrion or not.  The zero value means
// the region was never classified and is treated as not mitochondrion.
type MitoType uint8

const (
	MitoUnknown MitoType = iota
	NotMito
	Mito
)

func (t MitoType) String() string {
	switch t {
	case NotMito:
		return "not-mito"
	case Mito:
		return "mito"
	default:
		return "unknown"
	}
}

// Node is a region in the graph.
type Node struct {
	id NodeID

	// Size is the number of voxels in the region.
	Size uint64

	// BoundarySize is the number of the region's voxels on the volume border
	// or touching background.
	BoundarySize uint64

	MitoType MitoType

	edges []*Edge
}

func (n *Node) ID() NodeID {
	return n.id
}

func (n *Node) Degree() int {
	return len(n.edges)
}

// Edges returns a copy of the incident edge list.
func (n *Node) Edges() []*Edge {
	out := make([]*Edge, len(n.edges))
	copy(out, n.edges)
	return out
}

// Neighbors returns the ids of adjacent nodes in edge list order.
func (n *Node) Neighbors() []NodeID {
	out := make([]NodeID, len(n.edges))
	for i, e := range n.edges {
		out[i] = e.Other(n.id)
	}
	return out
}

// IsMito returns true only if the node was classified as mitochondrion.
func (n *Node) IsMito() bool {
	return n.MitoType == Mito
}

// OnBoundary returns true if the region touches the volume border.
func (n *Node) OnBoundary() bool {
	return n.BoundarySize > 0
}

// BorderLength is the total size of all real (non-false) incident edges plus
// the boundary size.
func (n *Node) BorderLength() uint64 {
	length := n.BoundarySize
	for _, e := range n.edges {
		if !e.FalseEdge {
			length += e.Size
		}
	}
	return length
}

// HasPreserveEdge returns true if any incident edge is marked preserve.
func (n *Node) HasPreserveEdge() bool {
	for _, e := range n.edges {
		if e.Preserve {
			return true
		}
	}
	return false
}

func (n *Node) attach(e *Edge) {
	n.edges = append(n.edges, e)
}

func (n *Node) detach(e *Edge) {
	for i, cur := range n.edges {
		if cur == e {
			last := len(n.edges) - 1
			n.edges[i] = n.edges[last]
			n.edges[last] = nil
			n.edges = n.edges[:last]
			return
		}
	}
}
