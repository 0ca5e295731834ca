package rag

// Edge joins two adjacent regions.
type Edge struct {
	key EdgeKey

	// Weight is the current merge score; lower means more likely to merge.
	Weight float64

	// Size is the accumulated boundary evidence between the two regions.
	Size uint64

	// Preserve forbids the edge from ever being merged.
	Preserve bool

	// FalseEdge marks a bookkeeping edge between regions that are not
	// actually adjacent.
	FalseEdge bool

	// Dirty means Weight may be stale and must be recomputed before use.
	Dirty bool

	Location    [3]int
	HasLocation bool
}

func (e *Edge) Key() EdgeKey {
	return e.key
}

// N1 is the endpoint with the smaller id.
func (e *Edge) N1() NodeID {
	return e.key.N1
}

// N2 is the endpoint with the larger id.
func (e *Edge) N2() NodeID {
	return e.key.N2
}

// Other returns the endpoint opposite id.
func (e *Edge) Other(id NodeID) NodeID {
	return e.key.Other(id)
}

// Eligible returns true if the edge may be considered for merging.
func (e *Edge) Eligible() bool {
	return !e.Preserve && !e.FalseEdge
}

// SetLocation records a representative point on the boundary.
func (e *Edge) SetLocation(x, y, z int) {
	e.Location = [3]int{x, y, z}
	e.HasLocation = true
}
