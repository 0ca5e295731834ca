package volume

import (
	"fmt"

	"github.com/janelia-flyem/NeuroProof-sub000/features"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// DefaultMitoThreshold is the mean mito prediction at or above which a
// region is classified as a mitochondrion.
const DefaultMitoThreshold = 0.35

// Options control graph construction.
type Options struct {
	// ClassifyMito sets every node's MitoType from the mean of MitoChannel.
	ClassifyMito  bool
	MitoChannel   int
	MitoThreshold float64
}

// DefaultOptions classify mitochondria from channel 2.
func DefaultOptions() Options {
	return Options{ClassifyMito: true, MitoChannel: 2, MitoThreshold: DefaultMitoThreshold}
}

var offsets = [6]Point3d{
	{-1, 0, 0}, {1, 0, 0},
	{0, -1, 0}, {0, 1, 0},
	{0, 0, -1}, {0, 0, 1},
}

// Build scans a label volume and returns its region adjacency graph.  Every
// voxel grows its region and feeds its predictions to the region's feature
// caches.  Each distinct neighboring label of a voxel grows the edge between
// them once.  Voxels touching background or the volume border count toward
// the region's BoundarySize.  fm may be nil when no features are needed.
func Build(labels *Labels, preds []*Channel, fm *features.Manager, opts Options) (*rag.Graph, error) {
	for i, c := range preds {
		if c.Size != labels.Size {
			return nil, fmt.Errorf("prediction channel %d has size %s, labels have size %s", i, c.Size, labels.Size)
		}
	}
	if fm == nil {
		fm = features.NewManager(len(preds))
	} else if fm.NumChannels() > len(preds) {
		return nil, fmt.Errorf("feature manager expects %d channels, got %d", fm.NumChannels(), len(preds))
	}
	classify := opts.ClassifyMito && opts.MitoChannel >= 0 && opts.MitoChannel < len(preds)
	if opts.ClassifyMito && !classify {
		np.Warningf("No prediction channel %d, skipping mito classification\n", opts.MitoChannel)
	}

	timedLog := np.NewTimeLog()
	g := rag.New()
	g.Observe(fm)
	mitoSums := make(map[rag.NodeID]float64)
	values := make([]float64, len(preds))
	var seen [6]uint64
	size := labels.Size

	for z := int32(0); z < size[2]; z++ {
		for y := int32(0); y < size[1]; y++ {
			for x := int32(0); x < size[0]; x++ {
				i := labels.index(x, y, z)
				label := labels.Data[i]
				if label == 0 {
					continue
				}
				id := rag.NodeID(label)
				n := g.FindNode(id)
				if n == nil {
					n = g.InsertNode(id)
				}
				for c, ch := range preds {
					values[c] = float64(ch.Data[i])
				}
				fm.AddNodeValue(n, values)
				if classify {
					mitoSums[id] += values[opts.MitoChannel]
				}

				numSeen := 0
				border := false
				for _, off := range offsets {
					nx, ny, nz := x+off[0], y+off[1], z+off[2]
					if nx < 0 || ny < 0 || nz < 0 || nx >= size[0] || ny >= size[1] || nz >= size[2] {
						border = true
						continue
					}
					other := labels.At(nx, ny, nz)
					if other == 0 {
						border = true
						continue
					}
					if other == label || contains(seen[:numSeen], other) {
						continue
					}
					seen[numSeen] = other
					numSeen++

					e := g.FindEdge(id, rag.NodeID(other))
					if e == nil {
						if g.FindNode(rag.NodeID(other)) == nil {
							g.InsertNode(rag.NodeID(other))
						}
						e = g.InsertEdge(id, rag.NodeID(other))
						e.SetLocation(int(x), int(y), int(z))
					}
					fm.AddEdgeValue(e, values)
				}
				if border {
					n.BoundarySize++
				}
			}
		}
	}

	if classify {
		var mitos int
		for _, n := range g.Nodes() {
			if mitoSums[n.ID()]/float64(n.Size) >= opts.MitoThreshold {
				n.MitoType = rag.Mito
				mitos++
			} else {
				n.MitoType = rag.NotMito
			}
		}
		np.Debugf("Classified %s of %s regions as mitochondria\n", np.Comma(mitos), np.Comma(g.NumNodes()))
	}
	timedLog.Infof("Built graph from %s volume: %s nodes, %s edges", size,
		np.Comma(g.NumNodes()), np.Comma(g.NumEdges()))
	return g, nil
}

func contains(labels []uint64, label uint64) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}
