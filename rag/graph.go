package rag

import (
	"fmt"
	"sort"
)

// RemovalObserver is told whenever an element leaves the graph so that side data,
// e.g., feature caches, can be released with it.
type RemovalObserver interface {
	NodeRemoved(id NodeID)
	EdgeRemoved(key EdgeKey)
}

// Graph is a region adjacency graph.  It is not safe for concurrent mutation.
type Graph struct {
	nodes     map[NodeID]*Node
	edges     map[EdgeKey]*Edge
	observers []RemovalObserver
}

func New() *Graph {
	return &Graph{
		nodes: make(map[NodeID]*Node),
		edges: make(map[EdgeKey]*Edge),
	}
}

// Observe registers an observer for node and edge removal.  Registering the
// same observer twice has no effect.
func (g *Graph) Observe(o RemovalObserver) {
	for _, registered := range g.observers {
		if registered == o {
			return
		}
	}
	g.observers = append(g.observers, o)
}

func (g *Graph) NumNodes() int {
	return len(g.nodes)
}

func (g *Graph) NumEdges() int {
	return len(g.edges)
}

// FindNode returns the node with the given id or nil.
func (g *Graph) FindNode(id NodeID) *Node {
	return g.nodes[id]
}

// InsertNode adds a new node.  It panics if the id is already present.
func (g *Graph) InsertNode(id NodeID) *Node {
	if _, found := g.nodes[id]; found {
		panic(fmt.Sprintf("rag: node %d already exists", id))
	}
	n := &Node{id: id}
	g.nodes[id] = n
	return n
}

// FindEdge returns the edge between a and b in either order, or nil.
func (g *Graph) FindEdge(a, b NodeID) *Edge {
	return g.edges[NewEdgeKey(a, b)]
}

// FindEdgeKey returns the edge with the given canonical key or nil.
func (g *Graph) FindEdgeKey(key EdgeKey) *Edge {
	return g.edges[key]
}

// InsertEdge adds an edge between two existing nodes.  It panics if the
// edge already exists, if a == b, or if either node is missing.
func (g *Graph) InsertEdge(a, b NodeID) *Edge {
	if a == b {
		panic(fmt.Sprintf("rag: cannot insert self edge on node %d", a))
	}
	key := NewEdgeKey(a, b)
	if _, found := g.edges[key]; found {
		panic(fmt.Sprintf("rag: edge %s already exists", key))
	}
	n1, n2 := g.nodes[key.N1], g.nodes[key.N2]
	if n1 == nil || n2 == nil {
		panic(fmt.Sprintf("rag: cannot insert edge %s with missing endpoint", key))
	}
	e := &Edge{key: key}
	g.edges[key] = e
	n1.attach(e)
	n2.attach(e)
	return e
}

// RemoveEdge detaches the edge from both endpoints and releases it.
// It panics if the edge does not exist.
func (g *Graph) RemoveEdge(a, b NodeID) {
	key := NewEdgeKey(a, b)
	e, found := g.edges[key]
	if !found {
		panic(fmt.Sprintf("rag: cannot remove missing edge %s", key))
	}
	g.removeEdge(e)
}

func (g *Graph) removeEdge(e *Edge) {
	if n := g.nodes[e.key.N1]; n != nil {
		n.detach(e)
	}
	if n := g.nodes[e.key.N2]; n != nil {
		n.detach(e)
	}
	delete(g.edges, e.key)
	for _, o := range g.observers {
		o.EdgeRemoved(e.key)
	}
}

// RemoveNode removes every incident edge and then the node itself.
// It panics if the node does not exist.
func (g *Graph) RemoveNode(id NodeID) {
	n, found := g.nodes[id]
	if !found {
		panic(fmt.Sprintf("rag: cannot remove missing node %d", id))
	}
	for len(n.edges) > 0 {
		g.removeEdge(n.edges[len(n.edges)-1])
	}
	delete(g.nodes, id)
	for _, o := range g.observers {
		o.NodeRemoved(id)
	}
}

// rekey moves an edge to a new canonical key, keeping the same Edge value.
func (g *Graph) rekey(e *Edge, key EdgeKey) {
	delete(g.edges, e.key)
	e.key = key
	g.edges[key] = e
}

// NodeIDs returns all node ids in ascending order.
func (g *Graph) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []*Node {
	ids := g.NodeIDs()
	out := make([]*Node, len(ids))
	for i, id := range ids {
		out[i] = g.nodes[id]
	}
	return out
}

// Edges returns all edges ordered by key.
func (g *Graph) Edges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Less(out[j].key) })
	return out
}

// TotalSize is the sum of all node sizes.
func (g *Graph) TotalSize() uint64 {
	var total uint64
	for _, n := range g.nodes {
		total += n.Size
	}
	return total
}

// Check verifies the structural invariants of the graph and returns the first
// violation found.
func (g *Graph) Check() error {
	for key, e := range g.edges {
		if e.key != key {
			return fmt.Errorf("edge stored under %s has key %s", key, e.key)
		}
		if key.N1 >= key.N2 {
			return fmt.Errorf("edge %s is not canonical", key)
		}
		for _, id := range []NodeID{key.N1, key.N2} {
			n := g.nodes[id]
			if n == nil {
				return fmt.Errorf("edge %s has missing endpoint %d", key, id)
			}
			found := false
			for _, ne := range n.edges {
				if ne == e {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("edge %s not in edge list of node %d", key, id)
			}
		}
	}
	for id, n := range g.nodes {
		if n.id != id {
			return fmt.Errorf("node stored under %d has id %d", id, n.id)
		}
		seen := make(map[EdgeKey]struct{}, len(n.edges))
		for _, e := range n.edges {
			if !e.key.Has(id) {
				return fmt.Errorf("node %d lists unrelated edge %s", id, e.key)
			}
			if _, dup := seen[e.key]; dup {
				return fmt.Errorf("node %d lists edge %s twice", id, e.key)
			}
			seen[e.key] = struct{}{}
			if g.edges[e.key] != e {
				return fmt.Errorf("node %d lists edge %s not in graph", id, e.key)
			}
		}
	}
	return nil
}
