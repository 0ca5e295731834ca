package refine

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/NeuroProof-sub000/features"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

const (
	merge = 0
	keep  = 1

	// DefaultSubsetSize is the number of neighbors whose edges are labeled
	// jointly.
	DefaultSubsetSize = 4

	// MaxSubsetSize bounds the 2^k labelings evaluated per subset.
	MaxSubsetSize = 10

	// costThreshold is the probability above which merging costs 1 and
	// keeping costs nothing.
	costThreshold = 1.0

	beliefEpsilon = 0.001
)

// Options tune the refinement.
type Options struct {
	SubsetSize int
	Workers    int
}

// Result summarizes a refinement.
type Result struct {
	Subsets int     // subsets evaluated
	Edges   int     // eligible edges
	Updated int     // edges that took part in at least one subset
	MaxDiff float64 // largest change of an edge probability
}

// Refiner rewrites the weights of the eligible edges of a graph.  Edge weights
// must already hold merge probabilities.  Features may be nil, in which case
// joined edges keep the lower weight.
type Refiner struct {
	Graph    *rag.Graph
	Features *features.Manager
	Options  Options
}

func New(g *rag.Graph, fm *features.Manager, opts Options) *Refiner {
	return &Refiner{Graph: g, Features: fm, Options: opts}
}

func (r *Refiner) subsetSize() int {
	size := r.Options.SubsetSize
	if size <= 0 {
		size = DefaultSubsetSize
	}
	if size < 2 {
		size = 2
	}
	if size > MaxSubsetSize {
		size = MaxSubsetSize
	}
	return size
}

func (r *Refiner) workers() int {
	if r.Options.Workers > 0 {
		return r.Options.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// beliefs holds, per edge of a subset, the summed evidence for merging and
// for keeping.
type beliefs map[rag.EdgeKey][2]float64

// Refine evaluates every subset and updates edge weights.  The graph must not
// be modified concurrently.
func (r *Refiner) Refine(ctx context.Context) (Result, error) {
	timedLog := np.NewTimeLog()
	size := r.subsetSize()
	todo := jobs(r.Graph, size)

	results := make([]beliefs, len(todo))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.workers())
	for i, j := range todo {
		i, j := i, j
		eg.Go(func() error {
			if err := egctx.Err(); err != nil {
				return err
			}
			b, err := r.evaluate(j)
			if err != nil {
				return err
			}
			results[i] = b
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}

	// Beliefs start at 1 and are multiplied by every subset's evidence.
	acc := make(map[rag.EdgeKey][2]float64)
	for _, b := range results {
		for key, f := range b {
			cur, found := acc[key]
			if !found {
				cur = [2]float64{1, 1}
			}
			cur[merge] *= f[merge]
			cur[keep] *= f[keep]
			acc[key] = cur
		}
	}

	res := Result{Subsets: len(todo)}
	for _, e := range r.Graph.Edges() {
		if !e.Eligible() {
			continue
		}
		res.Edges++
		blf, found := acc[e.Key()]
		if !found {
			continue
		}
		res.Updated++
		p := updatedProbability(e.Weight, blf)
		if diff := math.Abs(p - e.Weight); diff > res.MaxDiff {
			res.MaxDiff = diff
		}
		e.Weight = p
	}
	timedLog.Infof("Refined %s of %s edges over %s subsets, max change %.4f",
		np.Comma(res.Updated), np.Comma(res.Edges), np.Comma(res.Subsets), res.MaxDiff)
	return res, nil
}

// updatedProbability raises p when keep is favored and lowers it when merge
// is favored, with merges moving it half as far.
func updatedProbability(p float64, blf [2]float64) float64 {
	sum := blf[merge] + blf[keep]
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return p
	}
	vote0, vote1 := blf[merge]/sum, blf[keep]/sum
	var q float64
	if vote1 > vote0 {
		q = p * (1 + (vote1-vote0)/2)
	} else {
		q = p * (1 + (vote1-vote0)/4)
	}
	if q > 1 {
		q = 1
	}
	return q
}

func mergeCost(p float64) float64 {
	if p > costThreshold {
		return 1
	}
	return p
}

func keepCost(p float64) float64 {
	if p > costThreshold {
		return 0
	}
	return 1 - p
}

// evaluate plays out every labeling of one subset.
func (r *Refiner) evaluate(j job) (beliefs, error) {
	k := len(j.subset)
	if k < 1 || k > MaxSubsetSize {
		return nil, fmt.Errorf("bad subset of %d neighbors around node %d", k, j.center)
	}
	probs := make([]float64, k)
	for i, id := range j.subset {
		e := r.Graph.FindEdge(j.center, id)
		if e == nil {
			return nil, fmt.Errorf("node %d is not adjacent to %d", id, j.center)
		}
		probs[i] = e.Weight
	}

	sums := make([][2]float64, k)
	labels := make([]int, k)
	for config := 0; config < 1<<uint(k); config++ {
		for i := range labels {
			labels[i] = (config >> uint(i)) & 1
		}
		cost := r.playOut(j, labels, probs)
		val := cost / float64(k)
		for i, label := range labels {
			sums[i][label] += -math.Log(val + beliefEpsilon)
		}
	}

	out := make(beliefs, k)
	for i, id := range j.subset {
		out[rag.NewEdgeKey(j.center, id)] = sums[i]
	}
	return out, nil
}

// playOut merges the subset members labeled merge into the center on a
// scratch copy, lowest probability first, and returns the labeling's cost.
func (r *Refiner) playOut(j job, labels []int, probs []float64) float64 {
	ids := append([]rag.NodeID{j.center}, j.subset...)
	sg := r.Graph.CloneSubgraph(ids)
	var sfm *features.Manager
	if r.Features != nil {
		sfm = r.Features.Scratch()
		for _, id := range ids {
			sfm.CopyNodeCaches(r.Features, id)
		}
		for _, e := range sg.Edges() {
			sfm.CopyEdgeCaches(r.Features, e.Key())
		}
		sg.Observe(sfm)
	}
	cb := &scratchCombine{g: sg, fm: sfm}

	var order []int
	for i, label := range labels {
		if label == merge {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return probs[order[a]] < probs[order[b]] })

	var cost float64
	for _, i := range order {
		e := sg.FindEdge(j.center, j.subset[i])
		cost += mergeCost(e.Weight)
		cb.joined = cb.joined[:0]
		sg.MergeNodes(j.center, j.subset[i], cb)
		for _, key := range cb.joined {
			if je := sg.FindEdgeKey(key); je != nil && sfm != nil {
				je.Weight = sfm.Probability(sg, je)
			}
		}
	}
	for i, label := range labels {
		if label == keep {
			cost += keepCost(sg.FindEdge(j.center, j.subset[i]).Weight)
		}
	}
	return cost
}

// scratchCombine keeps the scratch feature caches in step with scratch
// merges.  Joined edges are re-scored by the caller once the node caches have
// been combined.
type scratchCombine struct {
	g      *rag.Graph
	fm     *features.Manager
	joined []rag.EdgeKey
}

func (c *scratchCombine) PostEdgeMove(e *rag.Edge, old rag.EdgeKey) {
	if c.fm != nil {
		c.fm.MoveEdgeFeatures(old, e.Key())
	}
}

func (c *scratchCombine) PostEdgeJoin(keepEdge, removed *rag.Edge) {
	rag.LowWeightCombine{}.PostEdgeJoin(keepEdge, removed)
	if c.fm != nil {
		c.fm.MergeEdgeFeatures(keepEdge.Key(), removed.Key())
	}
	c.joined = append(c.joined, keepEdge.Key())
}

func (c *scratchCombine) PostNodeJoin(keepNode, removed *rag.Node) {
	if c.fm != nil {
		c.fm.MergeNodeFeatures(keepNode.ID(), removed.ID())
		c.fm.RemoveEdge(rag.NewEdgeKey(keepNode.ID(), removed.ID()))
	}
}
