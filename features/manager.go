package features

import (
	"fmt"

	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// BasicPercentiles are the histogram percentiles used by SetBasicFeatures.
var BasicPercentiles = []float64{0.1, 0.3, 0.5, 0.7, 0.9}

type entry struct {
	channel int
	feature Feature
	modes   Modes
}

// Manager owns the caches of every node and edge and computes their feature
// vectors.  It implements rag.RemovalObserver so caches are released with the
// graph elements they describe.
type Manager struct {
	numChannels int
	entries     []entry
	classifier  Classifier

	nodeCaches map[rag.NodeID][]Cache
	edgeCaches map[rag.EdgeKey][]Cache
}

func NewManager(numChannels int) *Manager {
	return &Manager{
		numChannels: numChannels,
		nodeCaches:  make(map[rag.NodeID][]Cache),
		edgeCaches:  make(map[rag.EdgeKey][]Cache),
	}
}

func (m *Manager) NumChannels() int {
	return m.numChannels
}

// NumFeatures returns the number of (channel, feature) pairs.
func (m *Manager) NumFeatures() int {
	return len(m.entries)
}

// FeatureNames lists the feature of each (channel, feature) pair in vector order.
func (m *Manager) FeatureNames() []string {
	var names []string
	for ch := 0; ch < m.numChannels; ch++ {
		for _, en := range m.entries {
			if en.channel == ch {
				names = append(names, fmt.Sprintf("%s:%d", en.feature.Name(), ch))
			}
		}
	}
	return names
}

// AddFeature registers a feature on a channel.  Features must be added before
// any value is accumulated.
func (m *Manager) AddFeature(channel int, f Feature, modes Modes) error {
	if channel < 0 || channel >= m.numChannels {
		return fmt.Errorf("cannot add feature %q to channel %d: manager has %d channels", f.Name(), channel, m.numChannels)
	}
	if len(m.nodeCaches) != 0 || len(m.edgeCaches) != 0 {
		return fmt.Errorf("cannot add feature %q after values were accumulated", f.Name())
	}
	m.entries = append(m.entries, entry{channel: channel, feature: f, modes: modes})
	return nil
}

// AddMomentFeature adds a point count on the first channel and the first
// numMoments moments on every channel.
func (m *Manager) AddMomentFeature(numMoments int, diff bool) error {
	if m.numChannels == 0 {
		return fmt.Errorf("cannot add moment feature without channels")
	}
	if err := m.AddFeature(0, CountFeature{}, AllModes(diff)); err != nil {
		return err
	}
	for ch := 0; ch < m.numChannels; ch++ {
		if err := m.AddFeature(ch, MomentFeature{NumMoments: numMoments}, AllModes(diff)); err != nil {
			return err
		}
	}
	return nil
}

// AddHistFeature adds a histogram of numBins bins on every channel.
func (m *Manager) AddHistFeature(numBins int, percentiles []float64, diff bool) error {
	if numBins <= 0 {
		return fmt.Errorf("histogram needs at least one bin, got %d", numBins)
	}
	for ch := 0; ch < m.numChannels; ch++ {
		if err := m.AddFeature(ch, HistFeature{NumBins: numBins, Percentiles: percentiles}, AllModes(diff)); err != nil {
			return err
		}
	}
	return nil
}

// AddInclusivenessFeature adds the topology-based inclusiveness feature once.
func (m *Manager) AddInclusivenessFeature(diff bool) error {
	return m.AddFeature(0, InclusivenessFeature{}, AllModes(diff))
}

// SetBasicFeatures installs four moments with difference values and a 25 bin
// histogram without difference values.
func (m *Manager) SetBasicFeatures() error {
	if err := m.AddMomentFeature(4, true); err != nil {
		return err
	}
	return m.AddHistFeature(25, BasicPercentiles, false)
}

func (m *Manager) SetClassifier(c Classifier) {
	m.classifier = c
}

func (m *Manager) Classifier() Classifier {
	return m.classifier
}

func (m *Manager) newCaches() []Cache {
	caches := make([]Cache, len(m.entries))
	for i, en := range m.entries {
		caches[i] = en.feature.NewCache()
	}
	return caches
}

func (m *Manager) addValues(caches []Cache, preds []float64) {
	for i, en := range m.entries {
		if caches[i] != nil && en.channel < len(preds) {
			caches[i].AddPoint(preds[en.channel])
		}
	}
}

// AddNodeValue accumulates one voxel's predictions into the node and grows
// the node by one voxel.
func (m *Manager) AddNodeValue(n *rag.Node, preds []float64) {
	n.Size++
	if len(m.entries) == 0 {
		return
	}
	caches, found := m.nodeCaches[n.ID()]
	if !found {
		caches = m.newCaches()
		m.nodeCaches[n.ID()] = caches
	}
	m.addValues(caches, preds)
}

// AddEdgeValue accumulates one boundary voxel's predictions into the edge and
// grows the edge by one.
func (m *Manager) AddEdgeValue(e *rag.Edge, preds []float64) {
	e.Size++
	if len(m.entries) == 0 {
		return
	}
	caches, found := m.edgeCaches[e.Key()]
	if !found {
		caches = m.newCaches()
		m.edgeCaches[e.Key()] = caches
	}
	m.addValues(caches, preds)
}

// ordered visits entries channel by channel, preserving insertion order
// within a channel.
func (m *Manager) ordered(fn func(i int, en entry)) {
	for ch := 0; ch < m.numChannels; ch++ {
		for i, en := range m.entries {
			if en.channel == ch {
				fn(i, en)
			}
		}
	}
}

func cacheAt(caches []Cache, i int) (Cache, bool) {
	if caches == nil {
		return nil, false
	}
	return caches[i], caches[i] != nil
}

// ComputeAllFeatures returns the feature vector of an edge: the values of the
// smaller node, then of the larger node, then of the edge, then the difference
// values.  Elements without caches contribute nothing.
func (m *Manager) ComputeAllFeatures(g *rag.Graph, e *rag.Edge) []float64 {
	n1, n2 := g.FindNode(e.N1()), g.FindNode(e.N2())
	if n1 == nil || n2 == nil {
		return nil
	}
	if n2.Size < n1.Size {
		n1, n2 = n2, n1
	}
	c1, c2 := m.nodeCaches[n1.ID()], m.nodeCaches[n2.ID()]
	ce := m.edgeCaches[e.Key()]

	var out []float64
	for _, nc := range []struct {
		node   *rag.Node
		caches []Cache
	}{{n1, c1}, {n2, c2}} {
		m.ordered(func(i int, en entry) {
			if !en.modes.Node {
				return
			}
			c, ok := cacheAt(nc.caches, i)
			if ok || en.feature.NewCache() == nil {
				out = append(out, en.feature.NodeValues(c, nc.node)...)
			}
		})
	}
	m.ordered(func(i int, en entry) {
		if !en.modes.Edge {
			return
		}
		c, ok := cacheAt(ce, i)
		if ok || en.feature.NewCache() == nil {
			out = append(out, en.feature.EdgeValues(c, e, n1, n2)...)
		}
	})
	m.ordered(func(i int, en entry) {
		if !en.modes.Diff {
			return
		}
		a, ok1 := cacheAt(c1, i)
		b, ok2 := cacheAt(c2, i)
		if (ok1 && ok2) || en.feature.NewCache() == nil {
			out = append(out, en.feature.DiffValues(a, b, n1, n2)...)
		}
	})
	return out
}

// Probability returns the merge probability of an edge.  Without a classifier
// the first feature value is used, and without any feature the edge's current
// weight is returned.
func (m *Manager) Probability(g *rag.Graph, e *rag.Edge) float64 {
	if len(m.entries) == 0 {
		return e.Weight
	}
	vals := m.ComputeAllFeatures(g, e)
	if m.classifier != nil {
		return m.classifier.Score(vals)
	}
	if len(vals) == 0 {
		return e.Weight
	}
	return vals[0]
}

func mergeCaches(dst, src []Cache) {
	for i := range dst {
		if dst[i] != nil && src[i] != nil {
			dst[i].Merge(src[i])
		}
	}
}

// MergeNodeFeatures folds the caches of remove into keep and releases them.
func (m *Manager) MergeNodeFeatures(keep, remove rag.NodeID) {
	src, found := m.nodeCaches[remove]
	if !found {
		return
	}
	delete(m.nodeCaches, remove)
	if dst, found := m.nodeCaches[keep]; found {
		mergeCaches(dst, src)
	} else {
		m.nodeCaches[keep] = src
	}
}

// MergeEdgeFeatures folds the caches of remove into keep and releases them.
func (m *Manager) MergeEdgeFeatures(keep, remove rag.EdgeKey) {
	src, found := m.edgeCaches[remove]
	if !found {
		return
	}
	delete(m.edgeCaches, remove)
	if dst, found := m.edgeCaches[keep]; found {
		mergeCaches(dst, src)
	} else {
		m.edgeCaches[keep] = src
	}
}

// MoveEdgeFeatures reassigns the caches stored under from to the key to,
// replacing whatever to had.
func (m *Manager) MoveEdgeFeatures(from, to rag.EdgeKey) {
	if from == to {
		return
	}
	if src, found := m.edgeCaches[from]; found {
		m.edgeCaches[to] = src
		delete(m.edgeCaches, from)
	}
}

func (m *Manager) RemoveNode(id rag.NodeID) {
	delete(m.nodeCaches, id)
}

func (m *Manager) RemoveEdge(key rag.EdgeKey) {
	delete(m.edgeCaches, key)
}

func (m *Manager) NodeRemoved(id rag.NodeID) {
	m.RemoveNode(id)
}

func (m *Manager) EdgeRemoved(key rag.EdgeKey) {
	m.RemoveEdge(key)
}

// NodeCaches returns the caches of a node in feature registration order, or
// nil if the node has none.
func (m *Manager) NodeCaches(id rag.NodeID) []Cache {
	return m.nodeCaches[id]
}

// EdgeCaches returns the caches of an edge in feature registration order, or
// nil if the edge has none.
func (m *Manager) EdgeCaches(key rag.EdgeKey) []Cache {
	return m.edgeCaches[key]
}

func (m *Manager) NumNodeCaches() int {
	return len(m.nodeCaches)
}

func (m *Manager) NumEdgeCaches() int {
	return len(m.edgeCaches)
}

// Scratch returns a manager with the same features and classifier but no
// caches.  It is used with scratch copies of part of a graph.
func (m *Manager) Scratch() *Manager {
	s := NewManager(m.numChannels)
	s.entries = m.entries
	s.classifier = m.classifier
	return s
}

func copyCaches(caches []Cache) []Cache {
	out := make([]Cache, len(caches))
	for i, c := range caches {
		if c != nil {
			out[i] = c.Copy()
		}
	}
	return out
}

// CopyNodeCaches copies the caches of a node from src.  src is only read.
func (m *Manager) CopyNodeCaches(src *Manager, id rag.NodeID) {
	if caches, found := src.nodeCaches[id]; found {
		m.nodeCaches[id] = copyCaches(caches)
	}
}

// CopyEdgeCaches copies the caches of an edge from src.  src is only read.
func (m *Manager) CopyEdgeCaches(src *Manager, key rag.EdgeKey) {
	if caches, found := src.edgeCaches[key]; found {
		m.edgeCaches[key] = copyCaches(caches)
	}
}

// EdgeMean returns the mean of the values accumulated on an edge for a
// channel, taken from the first moment feature on that channel.
func (m *Manager) EdgeMean(key rag.EdgeKey, channel int) (float64, bool) {
	caches := m.edgeCaches[key]
	for i, en := range m.entries {
		if en.channel != channel || i >= len(caches) {
			continue
		}
		if mc, ok := caches[i].(*MomentCache); ok && mc.Count() > 0 {
			return mc.Moments()[0], true
		}
	}
	return 0, false
}
