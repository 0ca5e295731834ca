package agglo

import (
	"sort"

	"github.com/janelia-flyem/NeuroProof-sub000/features"
	"github.com/janelia-flyem/NeuroProof-sub000/labelmap"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// DefaultPrepassThreshold is the conservative threshold of the first pass of
// AgglomerateMRF.
const DefaultPrepassThreshold = 0.06

// Options tune the merge loops.
type Options struct {
	// UseMito vetoes merges that involve a mitochondrion.
	UseMito bool

	// UseEdgeWeight seeds the ranking with stored edge weights instead of
	// asking the feature manager.  Edges changed by merges are re-scored
	// either way.
	UseEdgeWeight bool

	// SynapseIgnoreSize keeps preserve edges no larger than this eligible.
	SynapseIgnoreSize uint64

	// PrepassThreshold overrides DefaultPrepassThreshold when positive.
	PrepassThreshold float64

	// MaxIterations bounds the iterations of a single loop when positive.
	MaxIterations int

	// Stop is polled before every iteration when set.  A loop ends early once
	// it returns true, leaving the graph consistent.
	Stop func() bool
}

// Agglomerator runs merge loops over a graph.  Every merge is recorded in
// Mapping as removed -> kept.
type Agglomerator struct {
	Graph    *rag.Graph
	Features *features.Manager
	Mapping  *labelmap.Mapping
	Options  Options
}

// New returns an agglomerator with an empty label mapping.  fm may be nil, in
// which case edges are ranked by weight.  Otherwise fm is registered to drop
// the caches of elements removed from g.
func New(g *rag.Graph, fm *features.Manager, opts Options) *Agglomerator {
	if fm != nil {
		g.Observe(fm)
	}
	return &Agglomerator{
		Graph:    g,
		Features: fm,
		Mapping:  labelmap.NewMapping(),
		Options:  opts,
	}
}

func (a *Agglomerator) featureCombine() FeatureCombine {
	return FeatureCombine{Graph: a.Graph, Features: a.Features, Mapping: a.Mapping}
}

func (a *Agglomerator) eligible(e *rag.Edge) bool {
	return eligible(e, a.Options.SynapseIgnoreSize)
}

// Probability returns the current merge probability of an edge.
func (a *Agglomerator) Probability(e *rag.Edge) float64 {
	if a.Features == nil {
		return e.Weight
	}
	return a.Features.Probability(a.Graph, e)
}

// seed returns the scoring of the initial ranking.
func (a *Agglomerator) seed(useEdgeWeight bool) func(e *rag.Edge) float64 {
	if useEdgeWeight {
		return storedWeight
	}
	return a.Probability
}

func (a *Agglomerator) vetoMito(e *rag.Edge) bool {
	if !a.Options.UseMito {
		return false
	}
	n1, n2 := a.Graph.FindNode(e.N1()), a.Graph.FindNode(e.N2())
	return n1.IsMito() || n2.IsMito()
}

func (a *Agglomerator) exhausted(iterations int) bool {
	if a.Options.Stop != nil && a.Options.Stop() {
		np.Infof("Interrupted after %s iterations with %s nodes left\n",
			np.Comma(iterations), np.Comma(a.Graph.NumNodes()))
		return true
	}
	if a.Options.MaxIterations > 0 && iterations >= a.Options.MaxIterations {
		np.Warningf("Stopped after %s iterations with %s nodes left\n",
			np.Comma(iterations), np.Comma(a.Graph.NumNodes()))
		return true
	}
	return false
}

func (a *Agglomerator) logDone(name string, threshold float64, merges int, timedLog np.TimeLog) {
	timedLog.Infof("%s at threshold %.3f: %s merges, %s nodes and %s edges left",
		name, threshold, np.Comma(merges), np.Comma(a.Graph.NumNodes()), np.Comma(a.Graph.NumEdges()))
}

// Agglomerate merges edges in order of probability until none is at or
// below threshold.  Of each merged pair the node with the smaller id is kept.
// It returns the number of merges.
func (a *Agglomerator) Agglomerate(threshold float64) int {
	return a.agglomerate(threshold, a.Options.UseEdgeWeight)
}

func (a *Agglomerator) agglomerate(threshold float64, useEdgeWeight bool) int {
	if threshold == 0 {
		return 0
	}
	timedLog := np.NewTimeLog()
	pq := NewProbPriority(a.Graph, a.Features)
	pq.SynapseIgnoreSize = a.Options.SynapseIgnoreSize
	pq.Initialize(threshold, useEdgeWeight)
	cb := DelayedPriorityCombine{FeatureCombine: a.featureCombine(), Priority: pq}

	var merges, iterations int
	for !pq.Empty() {
		if a.exhausted(iterations) {
			break
		}
		iterations++
		e := pq.PopBest()
		if e == nil || a.vetoMito(e) {
			continue
		}
		a.Graph.MergeNodes(e.N1(), e.N2(), cb)
		merges++
	}
	np.Debugf("%s edges kicked out of ranking\n", np.Comma(pq.KickedOut()))
	a.logDone("Agglomeration", threshold, merges, timedLog)
	return merges
}

// AgglomerateQueue merges edges in order of probability using a heap whose
// keys are updated in place after every merge.
func (a *Agglomerator) AgglomerateQueue(threshold float64) int {
	if threshold == 0 {
		return 0
	}
	timedLog := np.NewTimeLog()
	seed := a.seed(a.Options.UseEdgeWeight)
	q := NewMergeQueue(a.Graph.NumEdges())
	for _, e := range a.Graph.Edges() {
		if !a.eligible(e) {
			continue
		}
		val := seed(e)
		e.Weight = val
		q.Insert(e.Key(), val)
	}
	cb := QueueCombine{
		FeatureCombine: a.featureCombine(),
		Queue:          q,
		Score:          a.Probability,
		Eligible:       a.eligible,
	}

	var merges, iterations int
	for q.Len() > 0 {
		if a.exhausted(iterations) {
			break
		}
		iterations++
		key, val, _ := q.ExtractMin()
		e := a.Graph.FindEdgeKey(key)
		if e == nil || !a.eligible(e) {
			continue
		}
		if val > threshold {
			break
		}
		if a.vetoMito(e) {
			continue
		}
		a.Graph.MergeNodes(key.N1, key.N2, cb)
		merges++
	}
	a.logDone("Queue agglomeration", threshold, merges, timedLog)
	return merges
}

// AgglomerateFlat scores all edges once and merges them in that order.
// Edges formed by joins are re-scored but not re-ordered.
func (a *Agglomerator) AgglomerateFlat(threshold float64) int {
	if threshold == 0 {
		return 0
	}
	timedLog := np.NewTimeLog()
	seed := a.seed(a.Options.UseEdgeWeight)
	var order []*rag.Edge
	for _, e := range a.Graph.Edges() {
		if a.eligible(e) {
			e.Weight = seed(e)
			order = append(order, e)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].Weight != order[j].Weight {
			return order[i].Weight < order[j].Weight
		}
		return order[i].Key().Less(order[j].Key())
	})
	cb := FlatCombine{FeatureCombine: a.featureCombine(), Score: a.Probability}

	var merges int
	for i, e := range order {
		if a.exhausted(i) {
			break
		}
		// Edges are moved in place, so a live edge is found under its current key.
		if a.Graph.FindEdgeKey(e.Key()) != e || !a.eligible(e) {
			continue
		}
		if e.Weight > threshold || a.vetoMito(e) {
			continue
		}
		a.Graph.MergeNodes(e.N1(), e.N2(), cb)
		merges++
	}
	a.logDone("Flat agglomeration", threshold, merges, timedLog)
	return merges
}

// AgglomerateMito absorbs mitochondria into the non-mitochondrion region
// that covers most of their border.  The mitochondrion is always the node
// removed.
func (a *Agglomerator) AgglomerateMito(threshold float64) int {
	if threshold == 0 {
		return 0
	}
	timedLog := np.NewTimeLog()
	mp := NewMitoPriority(a.Graph)
	mp.Initialize(threshold, false)
	cb := DelayedPriorityCombine{FeatureCombine: a.featureCombine(), Priority: mp}

	var merges, iterations int
	for !mp.Empty() {
		if a.exhausted(iterations) {
			break
		}
		iterations++
		e := mp.PopBest()
		if e == nil {
			continue
		}
		n1, n2 := a.Graph.FindNode(e.N1()), a.Graph.FindNode(e.N2())
		var keep, remove rag.NodeID
		switch {
		case n1.IsMito() && !n2.IsMito():
			keep, remove = n2.ID(), n1.ID()
		case n2.IsMito() && !n1.IsMito():
			keep, remove = n1.ID(), n2.ID()
		default:
			continue
		}
		a.Graph.MergeNodes(keep, remove, cb)
		merges++
	}
	a.logDone("Mito agglomeration", threshold, merges, timedLog)
	return merges
}

// AgglomerateMRF runs a conservative pass, removes inclusions, re-scores
// every edge, and finishes with a pass at threshold that ranks edges by
// those scores.
func (a *Agglomerator) AgglomerateMRF(threshold float64) int {
	if threshold == 0 {
		return 0
	}
	prepass := a.Options.PrepassThreshold
	if prepass <= 0 {
		prepass = DefaultPrepassThreshold
	}
	merges := a.agglomerate(prepass, a.Options.UseEdgeWeight)
	merges += a.RemoveInclusions()
	for _, e := range a.Graph.Edges() {
		if a.eligible(e) {
			e.Weight = a.Probability(e)
		}
	}
	merges += a.agglomerate(threshold, true)
	return merges
}
