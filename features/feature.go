package features

import (
	"math"
	"sort"

	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// Modes selects where a feature contributes to the vector of an edge.
type Modes struct {
	Node bool
	Edge bool
	Diff bool
}

// AllModes enables node and edge values and, if diff is set, the difference
// values between the two nodes of an edge.
func AllModes(diff bool) Modes {
	return Modes{Node: true, Edge: true, Diff: diff}
}

// Feature computes values from one kind of cache.  Features computed directly
// from graph topology return a nil cache from NewCache and receive nil caches.
type Feature interface {
	Name() string
	NewCache() Cache
	NodeValues(c Cache, n *rag.Node) []float64
	EdgeValues(c Cache, e *rag.Edge, n1, n2 *rag.Node) []float64

	// DiffValues compares the caches of the smaller node n1 and the larger
	// node n2 of an edge.
	DiffValues(c1, c2 Cache, n1, n2 *rag.Node) []float64
}

// CountFeature reports the number of points.
type CountFeature struct{}

func (CountFeature) Name() string    { return "count" }
func (CountFeature) NewCache() Cache { return &CountCache{} }

func (CountFeature) NodeValues(c Cache, _ *rag.Node) []float64 {
	return []float64{float64(c.Count())}
}

func (CountFeature) EdgeValues(c Cache, _ *rag.Edge, _, _ *rag.Node) []float64 {
	return []float64{float64(c.Count())}
}

func (CountFeature) DiffValues(c1, c2 Cache, _, _ *rag.Node) []float64 {
	return []float64{math.Abs(float64(c1.Count()) - float64(c2.Count()))}
}

// MomentFeature reports mean, variance, and higher central moments.
type MomentFeature struct {
	NumMoments int
}

func (f MomentFeature) Name() string    { return "moment" }
func (f MomentFeature) NewCache() Cache { return NewMomentCache(f.NumMoments) }

func (f MomentFeature) NodeValues(c Cache, _ *rag.Node) []float64 {
	return c.(*MomentCache).Moments()
}

func (f MomentFeature) EdgeValues(c Cache, _ *rag.Edge, _, _ *rag.Node) []float64 {
	return c.(*MomentCache).Moments()
}

func (f MomentFeature) DiffValues(c1, c2 Cache, _, _ *rag.Node) []float64 {
	m1 := c1.(*MomentCache).Moments()
	m2 := c2.(*MomentCache).Moments()
	out := make([]float64, len(m1))
	for i := range m1 {
		out[i] = math.Abs(m1[i] - m2[i])
	}
	return out
}

// HistFeature reports interpolated percentiles of a histogram.  It has no
// difference values.
type HistFeature struct {
	NumBins     int
	Percentiles []float64
}

func (f HistFeature) Name() string    { return "hist" }
func (f HistFeature) NewCache() Cache { return NewHistCache(f.NumBins) }

func (f HistFeature) values(c Cache) []float64 {
	h := c.(*HistCache)
	out := make([]float64, len(f.Percentiles))
	for i, p := range f.Percentiles {
		out[i] = h.Percentile(p)
	}
	return out
}

func (f HistFeature) NodeValues(c Cache, _ *rag.Node) []float64 {
	return f.values(c)
}

func (f HistFeature) EdgeValues(c Cache, _ *rag.Edge, _, _ *rag.Node) []float64 {
	return f.values(c)
}

func (f HistFeature) DiffValues(_, _ Cache, _, _ *rag.Node) []float64 {
	return nil
}

// InclusivenessFeature measures how much of a region's border is taken by
// its largest contacts.  It needs no cache.
type InclusivenessFeature struct{}

func (InclusivenessFeature) Name() string    { return "inclusiveness" }
func (InclusivenessFeature) NewCache() Cache { return nil }

// borderLengths returns the distinct contact lengths of a node in descending
// order, including its boundary size, and their total.
func borderLengths(n *rag.Node) ([]uint64, uint64) {
	seen := map[uint64]struct{}{n.BoundarySize: {}}
	total := n.BoundarySize
	for _, e := range n.Edges() {
		if e.FalseEdge {
			continue
		}
		total += e.Size
		seen[e.Size] = struct{}{}
	}
	lengths := make([]uint64, 0, len(seen))
	for l := range seen {
		lengths = append(lengths, l)
	}
	sort.Slice(lengths, func(i, j int) bool { return lengths[i] > lengths[j] })
	return lengths, total
}

func ratio(a, b uint64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func (InclusivenessFeature) NodeValues(_ Cache, n *rag.Node) []float64 {
	lengths, total := borderLengths(n)
	var second uint64
	if len(lengths) > 1 {
		second = lengths[1]
	}
	return []float64{ratio(lengths[0], total), ratio(second, lengths[0])}
}

func (InclusivenessFeature) EdgeValues(_ Cache, e *rag.Edge, n1, n2 *rag.Node) []float64 {
	lengths1, tot1 := borderLengths(n1)
	lengths2, tot2 := borderLengths(n2)
	f1, f2 := ratio(e.Size, tot1), ratio(e.Size, tot2)
	if f2 < f1 {
		f1, f2 = f2, f1
	}
	fm1, fm2 := ratio(e.Size, lengths1[0]), ratio(e.Size, lengths2[0])
	if fm2 < fm1 {
		fm1, fm2 = fm2, fm1
	}
	return []float64{f1, f2, fm1, fm2}
}

func (f InclusivenessFeature) DiffValues(_, _ Cache, n1, n2 *rag.Node) []float64 {
	v1 := f.NodeValues(nil, n1)
	v2 := f.NodeValues(nil, n2)
	return []float64{v1[0] - v2[0], v1[1] - v2[1]}
}
