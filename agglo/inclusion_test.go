package agglo

import (
	"testing"

	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// inclusionGraph has a border triangle 1-2-3 with these attachments:
//
//	4 hangs off 1, and 8 hangs off 4
//	5 and 6 form a cycle through 1
//	7 hangs off 2 through a preserve edge
//	9 hangs off 3 and touches 1 only through a false edge
func inclusionGraph() *rag.Graph {
	g := rag.New()
	for id := rag.NodeID(1); id <= 9; id++ {
		n := g.InsertNode(id)
		n.Size = 10
		if id <= 3 {
			n.BoundarySize = 5
		}
	}
	link := func(a, b rag.NodeID) *rag.Edge {
		e := g.InsertEdge(a, b)
		e.Size = 3
		e.Weight = 0.5
		return e
	}
	link(1, 2)
	link(2, 3)
	link(1, 3)
	link(1, 4)
	link(4, 8)
	link(1, 5)
	link(5, 6)
	link(6, 1)
	link(2, 7).Preserve = true
	link(3, 9)
	link(1, 9).FalseEdge = true
	return g
}

func TestRemoveInclusions(t *testing.T) {
	g := inclusionGraph()
	total := g.TotalSize()
	a := New(g, nil, Options{})
	merges := a.RemoveInclusions()
	if merges != 5 {
		t.Errorf("expected 5 merges, got %d", merges)
	}
	for _, id := range []rag.NodeID{1, 2, 3, 7} {
		if g.FindNode(id) == nil {
			t.Errorf("node %d should remain", id)
		}
	}
	if g.NumNodes() != 4 {
		t.Errorf("expected 4 nodes, got %d: %v", g.NumNodes(), g.NodeIDs())
	}
	want := map[uint64]uint64{4: 1, 5: 1, 6: 1, 8: 1, 9: 3}
	for from, to := range want {
		if final, ok := a.Mapping.FinalLabel(from); !ok || final != to {
			t.Errorf("expected %d to end up in %d, got %d", from, to, final)
		}
	}
	if g.FindNode(1).Size != 50 || g.FindNode(3).Size != 20 {
		t.Errorf("unexpected sizes after inclusion removal: %d and %d", g.FindNode(1).Size, g.FindNode(3).Size)
	}
	if g.TotalSize() != total {
		t.Errorf("size not conserved")
	}
	if e := g.FindEdge(2, 7); e == nil || !e.Preserve {
		t.Errorf("preserve edge 2-7 must survive")
	}
	if err := g.Check(); err != nil {
		t.Error(err)
	}

	if again := a.RemoveInclusions(); again != 0 {
		t.Errorf("second pass should find nothing, merged %d", again)
	}
}

func TestRemoveInclusionsNoBorder(t *testing.T) {
	g := inclusionGraph()
	for _, n := range g.Nodes() {
		n.BoundarySize = 0
	}
	if merges := New(g, nil, Options{}).RemoveInclusions(); merges != 0 {
		t.Errorf("expected no merges without border nodes, got %d", merges)
	}
	if g.NumNodes() != 9 {
		t.Errorf("graph changed without border nodes")
	}
}

func TestRemoveInclusionsDisconnected(t *testing.T) {
	g := inclusionGraph()
	// A second piece touching the border only through node 10.
	n10 := g.InsertNode(10)
	n10.Size = 1
	n10.BoundarySize = 1
	g.InsertNode(11).Size = 1
	g.InsertEdge(10, 11).Size = 1

	a := New(g, nil, Options{})
	a.RemoveInclusions()
	if final, _ := a.Mapping.FinalLabel(11); final != 10 {
		t.Errorf("expected 11 to be absorbed by 10, got %d", final)
	}
}

func TestInclusionsKeepPreservedGroups(t *testing.T) {
	g := rag.New()
	for id := rag.NodeID(1); id <= 4; id++ {
		g.InsertNode(id).Size = 1
	}
	g.FindNode(1).BoundarySize = 1
	g.InsertEdge(1, 2).Size = 1
	g.InsertEdge(2, 3).Size = 1
	g.InsertEdge(3, 4).Size = 1
	g.InsertEdge(4, 2).Size = 1
	g.FindEdge(3, 4).Preserve = true

	a := New(g, nil, Options{})
	a.RemoveInclusions()
	// {2,3,4} holds a preserve edge and stays apart while the bridge {1,2}
	// is absorbed by the border node.
	if final, _ := a.Mapping.FinalLabel(2); final != 1 {
		t.Errorf("expected 2 to be merged into 1, got %d", final)
	}
	if g.FindNode(3) == nil || g.FindNode(4) == nil {
		t.Errorf("members of a group with a preserve edge were merged")
	}
	if e := g.FindEdge(3, 4); e == nil || !e.Preserve {
		t.Errorf("preserve edge lost")
	}
}
