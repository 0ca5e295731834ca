package ragio

import (
	"fmt"
	"io"
	"io/ioutil"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

type snapshotNode struct {
	ID           uint64
	Size         uint64
	BoundarySize uint64
	MitoType     uint8
}

type snapshotEdge struct {
	N1, N2      uint64
	Weight      float64
	Size        uint64
	Preserve    bool
	FalseEdge   bool
	Location    [3]int
	HasLocation bool
}

type snapshot struct {
	Version string
	RunID   string
	Nodes   []snapshotNode
	Edges   []snapshotEdge
}

// WriteSnapshot writes a compact binary copy of a graph with the given
// compression and a CRC32 checksum.
func WriteSnapshot(w io.Writer, g *rag.Graph, meta Meta, compress np.Compression) error {
	if meta.Version == "" {
		meta.Version = np.InterchangeVersion
	}
	snap := snapshot{
		Version: meta.Version,
		RunID:   meta.RunID,
		Nodes:   make([]snapshotNode, 0, g.NumNodes()),
		Edges:   make([]snapshotEdge, 0, g.NumEdges()),
	}
	for _, n := range g.Nodes() {
		snap.Nodes = append(snap.Nodes, snapshotNode{
			ID:           uint64(n.ID()),
			Size:         n.Size,
			BoundarySize: n.BoundarySize,
			MitoType:     uint8(n.MitoType),
		})
	}
	for _, e := range g.Edges() {
		snap.Edges = append(snap.Edges, snapshotEdge{
			N1:          uint64(e.N1()),
			N2:          uint64(e.N2()),
			Weight:      e.Weight,
			Size:        e.Size,
			Preserve:    e.Preserve,
			FalseEdge:   e.FalseEdge,
			Location:    e.Location,
			HasLocation: e.HasLocation,
		})
	}
	data, err := np.Serialize(snap, compress, np.CRC32)
	if err != nil {
		return fmt.Errorf("unable to serialize graph snapshot: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	np.Debugf("Wrote %s graph snapshot with %s\n", np.Bytes(uint64(len(data))), compress)
	return nil
}

// ReadSnapshot reads a graph written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*rag.Graph, Meta, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, Meta{}, err
	}
	var snap snapshot
	if err := np.Deserialize(data, &snap); err != nil {
		return nil, Meta{}, fmt.Errorf("unable to read graph snapshot: %v", err)
	}
	if err := np.CompatibleInterchange(snap.Version); err != nil {
		return nil, Meta{}, fmt.Errorf("%w: %v", ErrBadVersion, err)
	}
	g := rag.New()
	for _, sn := range snap.Nodes {
		if sn.ID == 0 || g.FindNode(rag.NodeID(sn.ID)) != nil {
			return nil, Meta{}, fmt.Errorf("corrupt graph snapshot: bad node %d", sn.ID)
		}
		n := g.InsertNode(rag.NodeID(sn.ID))
		n.Size = sn.Size
		n.BoundarySize = sn.BoundarySize
		n.MitoType = rag.MitoType(sn.MitoType)
	}
	for _, se := range snap.Edges {
		a, b := rag.NodeID(se.N1), rag.NodeID(se.N2)
		if a == b || g.FindNode(a) == nil || g.FindNode(b) == nil || g.FindEdge(a, b) != nil {
			return nil, Meta{}, fmt.Errorf("corrupt graph snapshot: bad edge (%d, %d)", a, b)
		}
		e := g.InsertEdge(a, b)
		e.Weight = se.Weight
		e.Size = se.Size
		e.Preserve = se.Preserve
		e.FalseEdge = se.FalseEdge
		e.Location = se.Location
		e.HasLocation = se.HasLocation
	}
	return g, Meta{Version: snap.Version, RunID: snap.RunID}, nil
}
