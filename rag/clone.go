package rag

// Clone returns an independent copy of the whole graph.  Observers are not copied.
func (g *Graph) Clone() *Graph {
	return g.CloneSubgraph(g.NodeIDs())
}

// CloneSubgraph returns an independent graph holding copies of the listed nodes
// and every edge between them.  Ids not in the graph are ignored.  The copy
// shares no memory with g, so it may be mutated freely for what-if exploration.
func (g *Graph) CloneSubgraph(ids []NodeID) *Graph {
	sub := New()
	for _, id := range ids {
		n := g.nodes[id]
		if n == nil || sub.nodes[id] != nil {
			continue
		}
		c := sub.InsertNode(id)
		c.Size = n.Size
		c.BoundarySize = n.BoundarySize
		c.MitoType = n.MitoType
	}
	for _, id := range ids {
		n := g.nodes[id]
		if n == nil {
			continue
		}
		for _, e := range n.edges {
			other := e.Other(id)
			if sub.nodes[other] == nil || sub.edges[e.key] != nil {
				continue
			}
			c := sub.InsertEdge(e.key.N1, e.key.N2)
			c.Weight = e.Weight
			c.Size = e.Size
			c.Preserve = e.Preserve
			c.FalseEdge = e.FalseEdge
			c.Dirty = e.Dirty
			c.Location = e.Location
			c.HasLocation = e.HasLocation
		}
	}
	return sub
}
