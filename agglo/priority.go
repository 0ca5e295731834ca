package agglo

import (
	"sort"

	"github.com/google/btree"

	"github.com/janelia-flyem/NeuroProof-sub000/features"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// Epsilon is the tolerance when comparing a popped edge's current score to
// the score it was ranked with.
const Epsilon = 1e-5

// Priority ranks candidate edges for merging.
type Priority interface {
	// Initialize scores every eligible edge and ranks those within threshold.
	Initialize(threshold float64, useEdgeWeight bool)

	// Empty reports whether no candidate remains.  Pending dirty edges are
	// re-scored before giving up.
	Empty() bool

	// PopBest removes the best candidate.  It returns nil if the candidate
	// turned out to be stale, in which case the caller should keep looping.
	PopBest() *rag.Edge

	// MarkDirty flags an edge whose score may have changed.
	MarkDirty(e *rag.Edge)
}

// eligible reports whether an edge may be merged by a priority loop.  Preserve
// edges stay eligible if they are no larger than synapseIgnoreSize, which is
// disabled when zero.
func eligible(e *rag.Edge, synapseIgnoreSize uint64) bool {
	if e.FalseEdge {
		return false
	}
	if e.Preserve {
		return synapseIgnoreSize > 0 && e.Size <= synapseIgnoreSize
	}
	return true
}

type rankItem struct {
	score float64
	key   rag.EdgeKey
}

func lessRank(a, b rankItem) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	return a.key.Less(b.key)
}

// ranking is the bookkeeping shared by the threshold-ranked priorities.
type ranking struct {
	g         *rag.Graph
	threshold float64
	strict    bool
	score     func(e *rag.Edge) float64
	eligible  func(e *rag.Edge) bool

	// seed scores edges on Initialize when set.  Dirty edges always go
	// through score.
	seed func(e *rag.Edge) float64

	items     *btree.BTreeG[rankItem]
	dirty     map[rag.EdgeKey]struct{}
	kickedOut int
}

func newRanking(g *rag.Graph, strict bool) ranking {
	return ranking{
		g:      g,
		strict: strict,
		items:  btree.NewG(16, lessRank),
		dirty:  make(map[rag.EdgeKey]struct{}),
	}
}

func (r *ranking) within(val float64) bool {
	if r.strict {
		return val < r.threshold
	}
	return val <= r.threshold
}

func (r *ranking) initialize(threshold float64) {
	r.threshold = threshold
	r.items.Clear(false)
	r.dirty = make(map[rag.EdgeKey]struct{})
	r.kickedOut = 0
	seed := r.score
	if r.seed != nil {
		seed = r.seed
	}
	for _, e := range r.g.Edges() {
		e.Dirty = false
		if !r.eligible(e) {
			continue
		}
		val := seed(e)
		e.Weight = val
		if r.within(val) {
			r.items.ReplaceOrInsert(rankItem{score: val, key: e.Key()})
		}
	}
}

func (r *ranking) clearDirty() {
	keys := make([]rag.EdgeKey, 0, len(r.dirty))
	for key := range r.dirty {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	r.dirty = make(map[rag.EdgeKey]struct{})

	for _, key := range keys {
		e := r.g.FindEdgeKey(key)
		if e == nil {
			continue
		}
		e.Dirty = false
		if !r.eligible(e) {
			continue
		}
		val := r.score(e)
		e.Weight = val
		if r.within(val) {
			r.items.ReplaceOrInsert(rankItem{score: val, key: key})
		} else {
			r.kickedOut++
		}
	}
}

// Empty implements Priority.
func (r *ranking) Empty() bool {
	if r.items.Len() == 0 {
		r.clearDirty()
	}
	return r.items.Len() == 0
}

// PopBest implements Priority.
func (r *ranking) PopBest() *rag.Edge {
	item, found := r.items.DeleteMin()
	if !found {
		return nil
	}
	if !r.within(item.score) {
		r.items.Clear(false)
		return nil
	}
	e := r.g.FindEdgeKey(item.key)
	if e == nil || !r.eligible(e) {
		return nil
	}
	val := e.Weight
	wasDirty := e.Dirty
	if wasDirty {
		val = r.score(e)
		e.Weight = val
		e.Dirty = false
		delete(r.dirty, item.key)
	}
	if val > item.score+Epsilon {
		if wasDirty && r.within(val) {
			r.items.ReplaceOrInsert(rankItem{score: val, key: item.key})
		} else {
			r.kickedOut++
		}
		return nil
	}
	return e
}

// MarkDirty implements Priority.
func (r *ranking) MarkDirty(e *rag.Edge) {
	if !r.eligible(e) {
		return
	}
	e.Dirty = true
	r.dirty[e.Key()] = struct{}{}
}

// KickedOut returns the number of edges dropped because their re-computed
// score left the threshold.
func (r *ranking) KickedOut() int {
	return r.kickedOut
}

// Len returns the number of ranked entries, which may include stale ones.
func (r *ranking) Len() int {
	return r.items.Len()
}

// ProbPriority ranks edges by merge probability, lowest first, and only
// considers edges at or below the threshold.
type ProbPriority struct {
	ranking
	fm *features.Manager

	// SynapseIgnoreSize keeps small preserve edges eligible when nonzero.
	SynapseIgnoreSize uint64
}

// NewProbPriority returns a priority over g scored by fm.  A nil fm ranks
// edges by their current weight.
func NewProbPriority(g *rag.Graph, fm *features.Manager) *ProbPriority {
	p := &ProbPriority{ranking: newRanking(g, false), fm: fm}
	p.ranking.score = p.score
	p.ranking.eligible = func(e *rag.Edge) bool { return eligible(e, p.SynapseIgnoreSize) }
	return p
}

func (p *ProbPriority) score(e *rag.Edge) float64 {
	if p.fm == nil {
		return e.Weight
	}
	return p.fm.Probability(p.g, e)
}

// Initialize implements Priority.  With useEdgeWeight the initial ranking
// takes stored weights as they are; edges dirtied by later merges are still
// re-scored by the feature manager.
func (p *ProbPriority) Initialize(threshold float64, useEdgeWeight bool) {
	p.seed = nil
	if useEdgeWeight {
		p.seed = storedWeight
	}
	p.initialize(threshold)
}

func storedWeight(e *rag.Edge) float64 {
	return e.Weight
}

// MitoPriority ranks edges between a mitochondrion and a larger
// non-mitochondrion region by how much of the mitochondrion's border the edge
// covers.  Only scores strictly below the threshold are considered.
type MitoPriority struct {
	ranking
}

func NewMitoPriority(g *rag.Graph) *MitoPriority {
	p := &MitoPriority{ranking: newRanking(g, true)}
	p.ranking.score = func(e *rag.Edge) float64 {
		return 1 - mitoBoundaryRatio(g, e)
	}
	p.ranking.eligible = func(e *rag.Edge) bool { return eligible(e, 0) }
	return p
}

// Initialize implements Priority.  Edge weights are always recomputed.
func (p *MitoPriority) Initialize(threshold float64, _ bool) {
	p.initialize(threshold)
}

// mitoBoundaryRatio returns the fraction of a mitochondrion's border covered
// by an edge to a non-mitochondrion region that is at least as large.  All
// other edges score 0.
func mitoBoundaryRatio(g *rag.Graph, e *rag.Edge) float64 {
	n1, n2 := g.FindNode(e.N1()), g.FindNode(e.N2())
	if n1 == nil || n2 == nil {
		return 0
	}
	var mito, other *rag.Node
	switch {
	case n1.IsMito() && !n2.IsMito():
		mito, other = n1, n2
	case n2.IsMito() && !n1.IsMito():
		mito, other = n2, n1
	default:
		return 0
	}
	if mito.Size > other.Size {
		return 0
	}
	border := mito.BorderLength()
	if border == 0 {
		return 0
	}
	ratio := float64(e.Size) / float64(border)
	if ratio > 1 {
		return 0
	}
	return ratio
}
