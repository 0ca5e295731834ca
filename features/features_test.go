package features

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

func near(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestMomentsMatchReference(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	vals := make([]float64, 500)
	c := NewMomentCache(4)
	for i := range vals {
		vals[i] = rnd.Float64()
		c.AddPoint(vals[i])
	}
	got := c.Moments()
	want := []float64{
		stat.Mean(vals, nil),
		stat.Moment(2, vals, nil),
		stat.Moment(3, vals, nil),
		stat.Moment(4, vals, nil),
	}
	for i := range want {
		if !near(got[i], want[i]) {
			t.Errorf("moment %d: got %g, want %g", i+1, got[i], want[i])
		}
	}
	if !near(got[1], stat.PopVariance(vals, nil)) {
		t.Errorf("variance %g differs from population variance", got[1])
	}
}

func TestMomentMergeAssociative(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	all := NewMomentCache(4)
	parts := []*MomentCache{NewMomentCache(4), NewMomentCache(4), NewMomentCache(4)}
	for i := 0; i < 300; i++ {
		v := rnd.Float64()
		all.AddPoint(v)
		parts[i%3].AddPoint(v)
	}
	left := parts[0].Copy()
	left.Merge(parts[1])
	left.Merge(parts[2])

	right := parts[1].Copy()
	right.Merge(parts[2])
	first := parts[0].Copy()
	first.Merge(right)

	for _, merged := range []Cache{left, first} {
		m := merged.(*MomentCache).Moments()
		for i, w := range all.Moments() {
			if !near(m[i], w) {
				t.Errorf("moment %d after merge: got %g, want %g", i+1, m[i], w)
			}
		}
		if merged.Count() != 300 {
			t.Errorf("expected 300 points after merge, got %d", merged.Count())
		}
	}
}

func TestEmptyMomentCache(t *testing.T) {
	for i, v := range NewMomentCache(4).Moments() {
		if v != 0 {
			t.Errorf("moment %d of empty cache is %g", i+1, v)
		}
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistCache(25)
	for i := 0; i < 100; i++ {
		h.AddPoint((float64(i) + 0.5) / 100)
	}
	if got := h.Percentile(0.5); !near(got, 0.5) {
		t.Errorf("median of uniform values: got %g", got)
	}

	top := NewHistCache(25)
	top.AddPoint(1.0)
	if got := top.Percentile(0.5); !near(got, 24.5/25) {
		t.Errorf("overflow bin not folded into last bin: got %g", got)
	}

	a, b := NewHistCache(10), NewHistCache(10)
	for i := 0; i < 10; i++ {
		a.AddPoint(0.05)
	}
	for i := 0; i < 15; i++ {
		b.AddPoint(0.95)
	}
	a.Merge(b)
	if a.Count() != 25 {
		t.Errorf("expected count 25 after merge, got %d", a.Count())
	}
	var total float64
	for _, n := range a.Bins {
		total += n
	}
	if total != 25 {
		t.Errorf("expected 25 points across bins, got %g", total)
	}
}

func basicManager(t *testing.T) (*rag.Graph, *Manager) {
	t.Helper()
	g := rag.New()
	m := NewManager(1)
	if err := m.SetBasicFeatures(); err != nil {
		t.Fatal(err)
	}
	g.Observe(m)
	n1, n2 := g.InsertNode(1), g.InsertNode(2)
	for i := 0; i < 5; i++ {
		m.AddNodeValue(n1, []float64{0.2})
	}
	for i := 0; i < 3; i++ {
		m.AddNodeValue(n2, []float64{0.6})
	}
	e := g.InsertEdge(1, 2)
	for i := 0; i < 4; i++ {
		m.AddEdgeValue(e, []float64{0.4})
	}
	return g, m
}

func TestEdgeMean(t *testing.T) {
	g, m := basicManager(t)
	key := g.FindEdge(1, 2).Key()
	if mean, ok := m.EdgeMean(key, 0); !ok || math.Abs(mean-0.4) > 1e-9 {
		t.Errorf("expected edge mean 0.4, got %f (%t)", mean, ok)
	}
	if _, ok := m.EdgeMean(key, 1); ok {
		t.Errorf("expected no mean for a missing channel")
	}
	if _, ok := m.EdgeMean(rag.NewEdgeKey(5, 6), 0); ok {
		t.Errorf("expected no mean for an unknown edge")
	}
}

func TestComputeAllFeatures(t *testing.T) {
	g, m := basicManager(t)
	e := g.FindEdge(1, 2)
	if e.Size != 4 || g.FindNode(1).Size != 5 || g.FindNode(2).Size != 3 {
		t.Fatalf("values did not grow sizes: edge %d, nodes %d %d", e.Size, g.FindNode(1).Size, g.FindNode(2).Size)
	}

	// count + 4 moments + 5 percentiles for each node and the edge, then
	// count and moment differences.
	vals := m.ComputeAllFeatures(g, e)
	if len(vals) != 35 {
		t.Fatalf("expected 35 features, got %d", len(vals))
	}
	if vals[0] != 3 || vals[10] != 5 || vals[20] != 4 {
		t.Errorf("smaller node must come first: %v", vals[:21])
	}
	if !near(vals[1], 0.6) || !near(vals[11], 0.2) {
		t.Errorf("unexpected node means %g and %g", vals[1], vals[11])
	}
	if vals[30] != 2 {
		t.Errorf("expected count difference 2, got %g", vals[30])
	}
	if !near(vals[31], 0.4) {
		t.Errorf("expected mean difference 0.4, got %g", vals[31])
	}
	if p := m.Probability(g, e); p != 3 {
		t.Errorf("without classifier the first feature is the probability, got %g", p)
	}

	m.RemoveEdge(e.Key())
	if vals := m.ComputeAllFeatures(g, e); len(vals) != 25 {
		t.Errorf("missing edge caches should be skipped, got %d features", len(vals))
	}
}

func TestManagerBookkeeping(t *testing.T) {
	g, m := basicManager(t)
	m.MergeNodeFeatures(1, 2)
	if m.NodeCaches(2) != nil {
		t.Errorf("merged-from node caches not released")
	}
	if c := m.NodeCaches(1)[0].Count(); c != 8 {
		t.Errorf("expected 8 points after merge, got %d", c)
	}
	if hist := m.NodeCaches(1)[2].(*HistCache); hist.Count() != 8 {
		t.Errorf("expected histogram count 8, got %d", hist.Count())
	}

	old := rag.NewEdgeKey(1, 2)
	moved := rag.NewEdgeKey(1, 9)
	m.MoveEdgeFeatures(old, moved)
	if m.EdgeCaches(old) != nil || m.EdgeCaches(moved) == nil {
		t.Errorf("edge caches not moved")
	}
	m.MoveEdgeFeatures(moved, old)

	g.RemoveNode(1)
	if m.NumNodeCaches() != 0 || m.NumEdgeCaches() != 0 {
		t.Errorf("caches outlived their elements: %d nodes, %d edges", m.NumNodeCaches(), m.NumEdgeCaches())
	}
}

func TestScratchCopies(t *testing.T) {
	_, m := basicManager(t)
	s := m.Scratch()
	if s.NumFeatures() != m.NumFeatures() {
		t.Fatalf("scratch manager lost features")
	}
	s.CopyNodeCaches(m, 1)
	s.NodeCaches(1)[0].AddPoint(0)
	if m.NodeCaches(1)[0].Count() != 5 {
		t.Errorf("scratch cache aliases source cache")
	}
	if s.NodeCaches(1)[0].Count() != 6 {
		t.Errorf("scratch cache not copied")
	}
}

func TestAddFeatureErrors(t *testing.T) {
	m := NewManager(2)
	if err := m.AddFeature(2, CountFeature{}, AllModes(false)); err == nil {
		t.Errorf("expected error for channel out of range")
	}
	if err := m.AddFeature(1, CountFeature{}, AllModes(false)); err != nil {
		t.Fatal(err)
	}
	g := rag.New()
	m.AddNodeValue(g.InsertNode(1), []float64{0, 0})
	if err := m.AddFeature(0, CountFeature{}, AllModes(false)); err == nil {
		t.Errorf("expected error adding feature after values")
	}
	if err := NewManager(1).AddHistFeature(0, BasicPercentiles, false); err == nil {
		t.Errorf("expected error for empty histogram")
	}
}

func TestInclusiveness(t *testing.T) {
	g := rag.New()
	for _, id := range []rag.NodeID{1, 2, 3, 4} {
		g.InsertNode(id).Size = 10
	}
	g.FindNode(1).BoundarySize = 2
	g.InsertEdge(1, 2).Size = 4
	g.InsertEdge(1, 3).Size = 2
	f := g.InsertEdge(1, 4)
	f.Size = 100
	f.FalseEdge = true

	var incl InclusivenessFeature
	vals := incl.NodeValues(nil, g.FindNode(1))
	if !near(vals[0], 0.5) || !near(vals[1], 0.5) {
		t.Errorf("unexpected node inclusiveness %v", vals)
	}

	e := g.FindEdge(1, 2)
	ev := incl.EdgeValues(nil, e, g.FindNode(1), g.FindNode(2))
	want := []float64{0.5, 1, 1, 1}
	for i := range want {
		if !near(ev[i], want[i]) {
			t.Errorf("edge inclusiveness %d: got %g, want %g", i, ev[i], want[i])
		}
	}

	m := NewManager(1)
	if err := m.AddInclusivenessFeature(true); err != nil {
		t.Fatal(err)
	}
	if vals := m.ComputeAllFeatures(g, e); len(vals) != 2+2+4+2 {
		t.Errorf("cacheless feature should always contribute, got %d values", len(vals))
	}
}

type countingClassifier struct {
	calls int
}

func (c *countingClassifier) Score(f []float64) float64 {
	c.calls++
	return f[0] / 10
}

func TestClassifiers(t *testing.T) {
	lc, err := ParseLogistic([]byte("weights: [1.0, -1.0]\nbias: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := lc.Score([]float64{2, 2, 99}); !near(got, 0.5) {
		t.Errorf("expected 0.5, got %g", got)
	}
	if got := lc.Score([]float64{3}); !near(got, 1/(1+math.Exp(-3))) {
		t.Errorf("short vector scored %g", got)
	}
	if _, err := ParseLogistic([]byte("weights: [.nan]\n")); err == nil {
		t.Errorf("expected error for non-finite weight")
	}

	inner := &countingClassifier{}
	cc := NewCachedClassifier(inner, 1<<20)
	for i := 0; i < 3; i++ {
		if got := cc.Score([]float64{4, 1}); got != 0.4 {
			t.Fatalf("cached score %g", got)
		}
	}
	cc.Score([]float64{5, 1})
	if inner.calls != 2 {
		t.Errorf("expected 2 classifier calls, got %d", inner.calls)
	}
	if attempts, hits := cc.Stats(); attempts != 4 || hits != 2 {
		t.Errorf("unexpected stats: %d attempts, %d hits", attempts, hits)
	}
}
