package ragio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
)

// Defaults for optional edge fields.
const (
	DefaultNodeSize = 1
	DefaultEdgeSize = 5
)

// ErrBadVersion is returned for documents written by an incompatible version.
var ErrBadVersion = errors.New("incompatible interchange version")

// Flag is a boolean that also accepts 0/1 when decoded.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	switch s := string(bytes.TrimSpace(b)); s {
	case "true":
		*f = true
	case "false", "null":
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("bad flag value %s", s)
		}
		*f = n != 0
	}
	return nil
}

// EdgeEntry is one element of "edge_list".
type EdgeEntry struct {
	Node1     uint64  `json:"node1"`
	Node2     uint64  `json:"node2"`
	Size1     *uint64 `json:"size1,omitempty"`
	Size2     *uint64 `json:"size2,omitempty"`
	Weight    float64 `json:"weight"`
	EdgeSize  *uint64 `json:"edge_size,omitempty"`
	Location  []int   `json:"location,omitempty"`
	Preserve  Flag    `json:"preserve"`
	FalseEdge Flag    `json:"false_edge"`
}

// NodeEntry is one element of the optional "node_list".
type NodeEntry struct {
	Node         uint64  `json:"node"`
	Size         *uint64 `json:"size,omitempty"`
	BoundarySize uint64  `json:"boundary_size"`
	MitoType     uint8   `json:"mito_type"`
}

// Document is the decoded interchange file.
type Document struct {
	Version  string      `json:"version,omitempty"`
	RunID    string      `json:"run_id,omitempty"`
	EdgeList []EdgeEntry `json:"edge_list"`
	NodeList []NodeEntry `json:"node_list,omitempty"`
}

// Meta carries the document metadata alongside a graph.
type Meta struct {
	Version string
	RunID   string
}

func sizeOr(p *uint64, def uint64) uint64 {
	if p == nil {
		return def
	}
	return *p
}

// Decode validates and decodes an interchange document.
func Decode(data []byte) (*Document, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("graph document is not valid JSON: %v", err)
	}
	if err := Validate(raw); err != nil {
		return nil, fmt.Errorf("graph document does not match schema: %v", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode graph document: %v", err)
	}
	if err := np.CompatibleInterchange(doc.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadVersion, err)
	}
	return &doc, nil
}

// Graph builds a graph from the document.  The first mention of a node sets
// its size and repeated edges keep their first entry.  Node entries override
// sizes and add regions that have no edges.
func (doc *Document) Graph() (*rag.Graph, error) {
	g := rag.New()
	for i, entry := range doc.EdgeList {
		if entry.Node1 == entry.Node2 {
			return nil, fmt.Errorf("edge %d joins node %d to itself", i, entry.Node1)
		}
		id1, id2 := rag.NodeID(entry.Node1), rag.NodeID(entry.Node2)
		if g.FindNode(id1) == nil {
			g.InsertNode(id1).Size = sizeOr(entry.Size1, DefaultNodeSize)
		}
		if g.FindNode(id2) == nil {
			g.InsertNode(id2).Size = sizeOr(entry.Size2, DefaultNodeSize)
		}
		if g.FindEdge(id1, id2) != nil {
			continue
		}
		e := g.InsertEdge(id1, id2)
		e.Weight = entry.Weight
		e.Size = sizeOr(entry.EdgeSize, DefaultEdgeSize)
		e.Preserve = bool(entry.Preserve)
		e.FalseEdge = bool(entry.FalseEdge)
		if len(entry.Location) == 3 {
			e.SetLocation(entry.Location[0], entry.Location[1], entry.Location[2])
		}
	}
	for _, entry := range doc.NodeList {
		id := rag.NodeID(entry.Node)
		n := g.FindNode(id)
		if n == nil {
			n = g.InsertNode(id)
			n.Size = DefaultNodeSize
		}
		if entry.Size != nil {
			n.Size = *entry.Size
		}
		n.BoundarySize = entry.BoundarySize
		n.MitoType = rag.MitoType(entry.MitoType)
	}
	return g, nil
}

// Import reads an interchange document and builds its graph.
func Import(r io.Reader) (*rag.Graph, Meta, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, Meta{}, err
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, Meta{}, err
	}
	g, err := doc.Graph()
	if err != nil {
		return nil, Meta{}, err
	}
	np.Debugf("Imported graph with %s nodes and %s edges\n", np.Comma(g.NumNodes()), np.Comma(g.NumEdges()))
	return g, Meta{Version: doc.Version, RunID: doc.RunID}, nil
}

// ImportFile reads an interchange file.
func ImportFile(path string) (*rag.Graph, Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("unable to open graph file %q: %v", path, err)
	}
	defer f.Close()
	return Import(f)
}

// NewDocument describes a graph.  Edges are listed in key order and every
// node is listed in node_list.
func NewDocument(g *rag.Graph, meta Meta) *Document {
	if meta.Version == "" {
		meta.Version = np.InterchangeVersion
	}
	doc := &Document{
		Version:  meta.Version,
		RunID:    meta.RunID,
		EdgeList: make([]EdgeEntry, 0, g.NumEdges()),
		NodeList: make([]NodeEntry, 0, g.NumNodes()),
	}
	for _, e := range g.Edges() {
		size1 := g.FindNode(e.N1()).Size
		size2 := g.FindNode(e.N2()).Size
		edgeSize := e.Size
		entry := EdgeEntry{
			Node1:     uint64(e.N1()),
			Node2:     uint64(e.N2()),
			Size1:     &size1,
			Size2:     &size2,
			Weight:    e.Weight,
			EdgeSize:  &edgeSize,
			Preserve:  Flag(e.Preserve),
			FalseEdge: Flag(e.FalseEdge),
		}
		if e.HasLocation {
			entry.Location = []int{e.Location[0], e.Location[1], e.Location[2]}
		}
		doc.EdgeList = append(doc.EdgeList, entry)
	}
	for _, n := range g.Nodes() {
		size := n.Size
		doc.NodeList = append(doc.NodeList, NodeEntry{
			Node:         uint64(n.ID()),
			Size:         &size,
			BoundarySize: n.BoundarySize,
			MitoType:     uint8(n.MitoType),
		})
	}
	return doc
}

// Export writes a graph as an interchange document.
func Export(w io.Writer, g *rag.Graph, meta Meta) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(g, meta)); err != nil {
		return fmt.Errorf("unable to write graph document: %v", err)
	}
	return nil
}

// ExportFile writes a graph to an interchange file.
func ExportFile(path string, g *rag.Graph, meta Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create graph file %q: %v", path, err)
	}
	if err := Export(f, g, meta); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
