package agglo

import (
	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// exterior is the virtual node adjacent to every region on the volume border.
const exterior rag.NodeID = 0

type component struct {
	articulation rag.NodeID
	members      map[rag.NodeID]struct{}
}

type dfsFrame struct {
	id        rag.NodeID
	parent    rag.NodeID
	hasParent bool
	nbrs      []rag.NodeID
	next      int
}

// neighbors lists the nodes adjacent through real edges, plus the exterior
// for border regions.  The exterior is adjacent to every border region.
func neighbors(g *rag.Graph, id rag.NodeID, border []rag.NodeID) []rag.NodeID {
	var out []rag.NodeID
	seen := make(map[rag.NodeID]struct{})
	add := func(n rag.NodeID) {
		if _, dup := seen[n]; !dup && n != id {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	if id == exterior {
		for _, n := range border {
			add(n)
		}
	}
	if n := g.FindNode(id); n != nil {
		for _, e := range n.Edges() {
			if !e.FalseEdge {
				add(e.Other(id))
			}
		}
		if n.OnBoundary() {
			add(exterior)
		}
	}
	return out
}

// biconnected returns the biconnected components reachable from the
// exterior in the order the depth-first search completes them, so nested
// components come before the components enclosing them.
func biconnected(g *rag.Graph, border []rag.NodeID) []component {
	disc := make(map[rag.NodeID]int)
	low := make(map[rag.NodeID]int)
	var edges [][2]rag.NodeID
	var comps []component

	clock := 1
	disc[exterior], low[exterior] = clock, clock
	stack := []dfsFrame{{id: exterior, nbrs: neighbors(g, exterior, border)}}
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next < len(f.nbrs) {
			w := f.nbrs[f.next]
			f.next++
			if _, seen := disc[w]; !seen {
				edges = append(edges, [2]rag.NodeID{f.id, w})
				clock++
				disc[w], low[w] = clock, clock
				stack = append(stack, dfsFrame{id: w, parent: f.id, hasParent: true, nbrs: neighbors(g, w, border)})
			} else if (!f.hasParent || w != f.parent) && disc[w] < disc[f.id] {
				edges = append(edges, [2]rag.NodeID{f.id, w})
				if disc[w] < low[f.id] {
					low[f.id] = disc[w]
				}
			}
			continue
		}

		v := f.id
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			break
		}
		u := stack[len(stack)-1].id
		if low[v] < low[u] {
			low[u] = low[v]
		}
		if low[v] >= disc[u] {
			c := component{articulation: u, members: make(map[rag.NodeID]struct{})}
			for len(edges) > 0 {
				top := edges[len(edges)-1]
				edges = edges[:len(edges)-1]
				c.members[top[0]] = struct{}{}
				c.members[top[1]] = struct{}{}
				if top[0] == u && top[1] == v {
					break
				}
			}
			comps = append(comps, c)
		}
	}
	return comps
}

// mergeOrder lists the members of c other than the articulation node in
// breadth-first order from it, so each member is adjacent to an earlier one.
func mergeOrder(g *rag.Graph, c component) []rag.NodeID {
	visited := map[rag.NodeID]struct{}{c.articulation: {}}
	queue := []rag.NodeID{c.articulation}
	var order []rag.NodeID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.FindNode(id).Edges() {
			if e.FalseEdge {
				continue
			}
			other := e.Other(id)
			if _, in := c.members[other]; !in {
				continue
			}
			if _, seen := visited[other]; seen {
				continue
			}
			visited[other] = struct{}{}
			order = append(order, other)
			queue = append(queue, other)
		}
	}
	return order
}

// RemoveInclusions merges every group of regions that is separated from the
// volume border by a single region into that region.  Groups containing a
// preserve edge are left alone.  It returns the number of merges.
func (a *Agglomerator) RemoveInclusions() int {
	g := a.Graph
	var border []rag.NodeID
	for _, n := range g.Nodes() {
		if n.OnBoundary() && n.ID() != exterior {
			border = append(border, n.ID())
		}
	}
	if len(border) == 0 {
		np.Infof("No region touches the volume border, skipping inclusion removal\n")
		return 0
	}

	timedLog := np.NewTimeLog()
	comps := biconnected(g, border)
	cb := a.featureCombine()
	var merges, skipped int
	for _, c := range comps {
		if _, outside := c.members[exterior]; outside {
			continue
		}
		art := c.articulation
		if g.FindNode(art) == nil {
			continue
		}
		preserved := false
		for id := range c.members {
			if id == art {
				continue
			}
			n := g.FindNode(id)
			if n == nil || n.HasPreserveEdge() {
				preserved = true
				break
			}
		}
		if preserved {
			skipped++
			continue
		}
		for _, id := range mergeOrder(g, c) {
			g.MergeNodes(art, id, cb)
			merges++
		}
	}
	timedLog.Infof("Removed inclusions with %s merges (%d groups kept for preserve edges), %s nodes left",
		np.Comma(merges), skipped, np.Comma(g.NumNodes()))
	return merges
}
