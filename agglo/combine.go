package agglo

import (
	"github.com/janelia-flyem/NeuroProof-sub000/features"
	"github.com/janelia-flyem/NeuroProof-sub000/labelmap"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// FeatureCombine keeps feature caches and the label mapping in step with
// merges.  Joined edges keep the lower weight.  Features and Mapping may be
// nil.
type FeatureCombine struct {
	Graph    *rag.Graph
	Features *features.Manager
	Mapping  *labelmap.Mapping
}

func (c FeatureCombine) PostEdgeMove(e *rag.Edge, old rag.EdgeKey) {
	if c.Features != nil {
		c.Features.MoveEdgeFeatures(old, e.Key())
	}
}

func (c FeatureCombine) PostEdgeJoin(keep, removed *rag.Edge) {
	if c.Features != nil {
		switch {
		case keep.FalseEdge:
			c.Features.MoveEdgeFeatures(removed.Key(), keep.Key())
		case !removed.FalseEdge:
			c.Features.MergeEdgeFeatures(keep.Key(), removed.Key())
		default:
			c.Features.RemoveEdge(removed.Key())
		}
	}
	rag.LowWeightCombine{}.PostEdgeJoin(keep, removed)
}

func (c FeatureCombine) PostNodeJoin(keep, removed *rag.Node) {
	if c.Features != nil {
		c.Features.MergeNodeFeatures(keep.ID(), removed.ID())
		c.Features.RemoveEdge(rag.NewEdgeKey(keep.ID(), removed.ID()))
	}
	if c.Mapping != nil {
		c.Mapping.Set(uint64(removed.ID()), uint64(keep.ID()))
	}
}

// DelayedPriorityCombine marks every edge whose score may have changed after
// a node join as dirty: the edges of the kept node and the edges of each of
// its neighbours.
type DelayedPriorityCombine struct {
	FeatureCombine
	Priority Priority
}

func (c DelayedPriorityCombine) PostNodeJoin(keep, removed *rag.Node) {
	c.FeatureCombine.PostNodeJoin(keep, removed)
	for _, e := range keep.Edges() {
		c.Priority.MarkDirty(e)
		other := e.Other(keep.ID())
		if other == removed.ID() {
			continue
		}
		if nbr := c.Graph.FindNode(other); nbr != nil {
			for _, e2 := range nbr.Edges() {
				c.Priority.MarkDirty(e2)
			}
		}
	}
}

// QueueCombine updates the keys of a MergeQueue as edges move and join.
type QueueCombine struct {
	FeatureCombine
	Queue    *MergeQueue
	Score    func(e *rag.Edge) float64
	Eligible func(e *rag.Edge) bool
}

func (c QueueCombine) PostEdgeMove(e *rag.Edge, old rag.EdgeKey) {
	c.FeatureCombine.PostEdgeMove(e, old)
	c.Queue.Invalidate(old)
}

func (c QueueCombine) PostEdgeJoin(keep, removed *rag.Edge) {
	c.FeatureCombine.PostEdgeJoin(keep, removed)
	c.Queue.Invalidate(removed.Key())
}

// PostNodeJoin re-scores every edge of the kept node except the one being
// merged away and moves it to its new place in the queue.
func (c QueueCombine) PostNodeJoin(keep, removed *rag.Node) {
	c.FeatureCombine.PostNodeJoin(keep, removed)
	connecting := rag.NewEdgeKey(keep.ID(), removed.ID())
	c.Queue.Invalidate(connecting)
	for _, e := range keep.Edges() {
		if e.Key() == connecting {
			continue
		}
		if !c.Eligible(e) {
			c.Queue.Invalidate(e.Key())
			continue
		}
		val := c.Score(e)
		e.Weight = val
		c.Queue.Insert(e.Key(), val)
	}
}

// FlatCombine re-scores joined edges in place.  Moved edges carry their
// weight with them.
type FlatCombine struct {
	FeatureCombine
	Score func(e *rag.Edge) float64
}

func (c FlatCombine) PostEdgeJoin(keep, removed *rag.Edge) {
	c.FeatureCombine.PostEdgeJoin(keep, removed)
	keep.Weight = c.Score(keep)
}
