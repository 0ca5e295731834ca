package rag

import "fmt"

// Combiner is notified by MergeNodes as edges and nodes are folded together.
// Priority policies and feature managers use it to keep their own indexes
// consistent with the graph.
type Combiner interface {
	// PostEdgeMove is called after edge e, formerly keyed by old, was moved in
	// place from the removed node to the kept node.
	PostEdgeMove(e *Edge, old EdgeKey)

	// PostEdgeJoin is called when an edge of the removed node duplicates an
	// existing edge of the kept node.  It is called before the removed edge's
	// size and flags are folded into keep, so both edges still show their own
	// state.
	PostEdgeJoin(keep, removed *Edge)

	// PostNodeJoin is called after all edges were transferred and sizes
	// updated but before the removed node leaves the graph.  The edge between
	// keep and removed still exists at this point.
	PostNodeJoin(keep, removed *Node)
}

// LowWeightCombine keeps the lowest weight when two edges are joined.  Weights
// above 1 are treated as "unset" and always replaced.
type LowWeightCombine struct{}

func (LowWeightCombine) PostEdgeMove(*Edge, EdgeKey) {}

func (LowWeightCombine) PostEdgeJoin(keep, removed *Edge) {
	weight := removed.Weight
	if (weight <= keep.Weight && keep.Weight <= 1.0) || weight > 1.0 {
		keep.Weight = weight
	}
}

func (LowWeightCombine) PostNodeJoin(*Node, *Node) {}

// MergeNodes folds node remove into node keep and returns keep.  Every edge of
// remove other than the one connecting it to keep is either joined with an
// existing edge of keep or moved in place to keep.  Sizes are added, the
// combiner is notified, and remove is deleted from the graph.
//
// Merging a node into itself or merging non-adjacent nodes is a programming
// error and panics.
func (g *Graph) MergeNodes(keepID, removeID NodeID, cb Combiner) *Node {
	if keepID == removeID {
		panic(fmt.Sprintf("rag: cannot merge node %d into itself", keepID))
	}
	keep, remove := g.nodes[keepID], g.nodes[removeID]
	if keep == nil || remove == nil {
		panic(fmt.Sprintf("rag: cannot merge missing node (%d <- %d)", keepID, removeID))
	}
	connecting := g.FindEdge(keepID, removeID)
	if connecting == nil {
		panic(fmt.Sprintf("rag: cannot merge non-adjacent nodes %d and %d", keepID, removeID))
	}
	if cb == nil {
		cb = LowWeightCombine{}
	}

	for _, e := range remove.Edges() {
		if e == connecting {
			continue
		}
		other := e.Other(removeID)
		if existing := g.FindEdge(keepID, other); existing != nil {
			cb.PostEdgeJoin(existing, e)
			existing.Size += e.Size
			existing.Preserve = existing.Preserve || e.Preserve
			existing.FalseEdge = existing.FalseEdge && e.FalseEdge
			continue
		}
		old := e.key
		remove.detach(e)
		g.rekey(e, NewEdgeKey(keepID, other))
		keep.attach(e)
		cb.PostEdgeMove(e, old)
	}

	keep.Size += remove.Size
	keep.BoundarySize += remove.BoundarySize

	cb.PostNodeJoin(keep, remove)
	g.RemoveNode(removeID)
	return keep
}
