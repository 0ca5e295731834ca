package refine

import (
	"sort"

	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// job is one subset of the neighbors of center.
type job struct {
	center rag.NodeID
	subset []rag.NodeID // sorted
}

// eligibleNeighbors returns the non-mito neighbors of n reached through
// mergeable edges, sorted by id.
func eligibleNeighbors(g *rag.Graph, n *rag.Node) []rag.NodeID {
	var nbrs []rag.NodeID
	for _, e := range n.Edges() {
		if !e.Eligible() {
			continue
		}
		other := g.FindNode(e.Other(n.ID()))
		if other.IsMito() {
			continue
		}
		nbrs = append(nbrs, other.ID())
	}
	sort.Slice(nbrs, func(i, j int) bool { return nbrs[i] < nbrs[j] })
	return nbrs
}

type rankedNeighbor struct {
	id     rag.NodeID
	degree int
}

// subsets splits the neighbors of n into subsets of at most size members.
// Neighbors are taken in order of how many other neighbors they touch,
// preferring one adjacent to the previously taken neighbor, so that each
// subset tends to be a connected patch around n.  A short final subset is
// padded with the lowest neighbor ids.
func subsets(g *rag.Graph, n *rag.Node, size int) [][]rag.NodeID {
	nbrs := eligibleNeighbors(g, n)
	if len(nbrs) <= 1 {
		return nil
	}
	inSet := make(map[rag.NodeID]struct{}, len(nbrs))
	for _, id := range nbrs {
		inSet[id] = struct{}{}
	}

	// Ranked highest in-set degree first, then highest id.
	ranked := make([]rankedNeighbor, 0, len(nbrs))
	for _, id := range nbrs {
		degree := 0
		for _, e := range g.FindNode(id).Edges() {
			if _, found := inSet[e.Other(id)]; found {
				degree++
			}
		}
		ranked = append(ranked, rankedNeighbor{id: id, degree: degree})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].degree != ranked[j].degree {
			return ranked[i].degree > ranked[j].degree
		}
		return ranked[i].id > ranked[j].id
	})

	var out [][]rag.NodeID
	var current []rag.NodeID
	prev := n.ID()
	for len(ranked) > 0 {
		pick := 0
		for i, r := range ranked {
			if g.FindEdge(r.id, prev) != nil {
				pick = i
				break
			}
		}
		id := ranked[pick].id
		ranked = append(ranked[:pick], ranked[pick+1:]...)
		current = append(current, id)
		prev = id
		if len(current) >= size {
			out = append(out, sortedIDs(current))
			current = nil
		}
	}
	if len(current) > 0 {
		if len(nbrs) > size {
			taken := make(map[rag.NodeID]struct{}, size)
			for _, id := range current {
				taken[id] = struct{}{}
			}
			for _, id := range nbrs {
				if len(current) == size {
					break
				}
				if _, dup := taken[id]; !dup {
					current = append(current, id)
				}
			}
		}
		out = append(out, sortedIDs(current))
	}
	return out
}

func sortedIDs(ids []rag.NodeID) []rag.NodeID {
	out := append([]rag.NodeID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// jobs lists the subsets of every non-mito region in id order.
func jobs(g *rag.Graph, size int) []job {
	var out []job
	for _, n := range g.Nodes() {
		if n.IsMito() {
			continue
		}
		for _, s := range subsets(g, n, size) {
			out = append(out, job{center: n.ID(), subset: s})
		}
	}
	return out
}
