package pipeline

import (
	"context"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/janelia-flyem/NeuroProof-sub000/labelmap"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
	"github.com/janelia-flyem/NeuroProof-sub000/ragio"
	"github.com/janelia-flyem/NeuroProof-sub000/volume"
)

func gridGraph(dim int, weight float64) *rag.Graph {
	g := rag.New()
	id := func(x, y int) rag.NodeID { return rag.NodeID(y*dim + x + 1) }
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			n := g.InsertNode(id(x, y))
			n.Size = 10
			if x == 0 || y == 0 || x == dim-1 || y == dim-1 {
				n.BoundarySize = 1
			}
		}
	}
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			if x+1 < dim {
				e := g.InsertEdge(id(x, y), id(x+1, y))
				e.Weight, e.Size = weight, 2
			}
			if y+1 < dim {
				e := g.InsertEdge(id(x, y), id(x, y+1))
				e.Weight, e.Size = weight, 2
			}
		}
	}
	return g
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.toml")
	writeFile(t, cfgPath, `
[logging]
logfile = "logs/np.log"
max_log_size = 10

[input]
graph = "graph.json"

[agglomeration]
algorithm = "queue"
threshold = 0.3
use_edge_weight = true
remove_inclusions = true

[refine]
enabled = true
subset_size = 3

[output]
graph = "out/graph.json"
compression = "zstd"
`)
	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "graph.json"), cfg.Input.Graph)
	require.Equal(t, filepath.Join(dir, "logs/np.log"), cfg.Logging.Logfile)
	require.Equal(t, filepath.Join(dir, "out/graph.json"), cfg.Output.Graph)
	require.Equal(t, AlgorithmQueue, cfg.Agglomeration.Algorithm)
	require.Equal(t, 0.3, cfg.Agglomeration.Threshold)
	require.True(t, cfg.Agglomeration.UseEdgeWeight)
	require.True(t, cfg.Agglomeration.RemoveInclusions)
	require.True(t, cfg.Refine.Enabled)
	require.Equal(t, 3, cfg.Refine.SubsetSize)
	require.Equal(t, 10, cfg.Logging.MaxSize)

	// defaults survive for settings the file leaves out
	require.True(t, cfg.Features.Basic)
	require.Equal(t, 2, cfg.Features.MitoChannel)
	require.Equal(t, 1024, cfg.Store.CacheEntries)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.Error(t, cfg.Validate(), "no input")

	cfg.Input.Graph = "a.json"
	require.NoError(t, cfg.Validate())

	cfg.Input.Snapshot = "a.snap"
	require.Error(t, cfg.Validate(), "two inputs")
	cfg.Input.Snapshot = ""

	cfg.Agglomeration.Algorithm = "greedy"
	require.Error(t, cfg.Validate())
	cfg.Agglomeration.Algorithm = ""
	require.NoError(t, cfg.Validate())
	require.Equal(t, AlgorithmProb, cfg.Agglomeration.Algorithm)

	cfg.Agglomeration.Threshold = 1.5
	require.Error(t, cfg.Validate())
	cfg.Agglomeration.Threshold = math.NaN()
	require.Error(t, cfg.Validate())
	cfg.Agglomeration.Threshold = 0.5

	cfg.Output.Compression = "lz4"
	require.Error(t, cfg.Validate())
	cfg.Output.Compression = ""

	cfg.Input.Graph = ""
	cfg.Input.Labels = "labels.raw"
	require.Error(t, cfg.Validate(), "labels without size")
	cfg.Input.Size = [3]int32{4, 4, 4}
	require.NoError(t, cfg.Validate())
}

func TestRunGraph(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "grid.json"))
	require.NoError(t, err)
	require.NoError(t, ragio.Export(f, gridGraph(3, 0.1), ragio.Meta{}))
	require.NoError(t, f.Close())

	cfg := DefaultConfig()
	cfg.Input.Graph = filepath.Join(dir, "grid.json")
	cfg.Agglomeration.Threshold = 0.5
	cfg.Output.Graph = filepath.Join(dir, "out.json")
	cfg.Output.Snapshot = filepath.Join(dir, "out.snap")
	cfg.Output.Compression = "snappy"
	cfg.Output.Mapping = filepath.Join(dir, "mapping.arrow")
	cfg.Output.MappingMsgp = filepath.Join(dir, "mapping.msgp")
	cfg.Store.Path = filepath.Join(dir, "labels.db")

	report, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 9, report.InitialNodes)
	require.Equal(t, 1, report.Nodes)
	require.Equal(t, 8, report.Merges)
	require.NotEmpty(t, report.RunID)
	require.Len(t, report.Outputs, 5)

	g, meta, err := ragio.ImportFile(cfg.Output.Graph)
	require.NoError(t, err)
	require.Equal(t, report.RunID, meta.RunID)
	require.Equal(t, 0, g.NumEdges())

	sf, err := os.Open(cfg.Output.Snapshot)
	require.NoError(t, err)
	defer sf.Close()
	sg, _, err := ragio.ReadSnapshot(sf)
	require.NoError(t, err)
	require.Equal(t, uint64(90), sg.FindNode(1).Size)

	af, err := os.Open(cfg.Output.Mapping)
	require.NoError(t, err)
	defer af.Close()
	m, err := labelmap.ReadArrow(af)
	require.NoError(t, err)
	for label := uint64(2); label <= 9; label++ {
		final, ok := m.FinalLabel(label)
		require.True(t, ok)
		require.Equal(t, uint64(1), final)
	}

	data, err := ioutil.ReadFile(cfg.Output.MappingMsgp)
	require.NoError(t, err)
	m2 := labelmap.NewMapping()
	_, err = m2.UnmarshalMsg(data)
	require.NoError(t, err)
	require.Equal(t, m.Table(), m2.Table())

	store, err := labelmap.OpenStore(cfg.Store)
	require.NoError(t, err)
	defer store.Close()
	final, err := store.FinalLabel(5)
	require.NoError(t, err)
	require.Equal(t, uint64(1), final)
}

func TestRunVolume(t *testing.T) {
	dir := t.TempDir()
	size := volume.Point3d{3, 3, 3}
	labels, err := volume.NewLabels(size)
	require.NoError(t, err)
	for i := range labels.Data {
		labels.Data[i] = 1
	}
	labels.Set(1, 1, 1, 2)
	labelPath := filepath.Join(dir, "labels.raw")
	require.NoError(t, volume.WriteLabelsFile(labelPath, labels))

	boundary, err := volume.NewChannel(size)
	require.NoError(t, err)
	for i := range boundary.Data {
		boundary.Data[i] = 0.9
	}
	predPath := filepath.Join(dir, "boundary.raw")
	pf, err := os.Create(predPath)
	require.NoError(t, err)
	require.NoError(t, volume.WriteChannel(pf, boundary))
	require.NoError(t, pf.Close())

	cfg := DefaultConfig()
	cfg.Input.Labels = labelPath
	cfg.Input.Predictions = []string{predPath}
	cfg.Input.Size = size
	cfg.Agglomeration.Threshold = 0.5
	cfg.Agglomeration.RemoveInclusions = true
	cfg.Output.Labels = filepath.Join(dir, "relabeled.raw")

	report, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 2, report.InitialNodes)
	require.Zero(t, report.Merges, "boundary prediction 0.9 is above threshold")
	require.Equal(t, 1, report.InclusionMerges)
	require.Equal(t, 1, report.Nodes)

	relabeled, err := volume.ReadLabelsFile(cfg.Output.Labels, size)
	require.NoError(t, err)
	for _, label := range relabeled.Data {
		require.Equal(t, uint64(1), label)
	}
}

func TestProcessAlgorithms(t *testing.T) {
	for _, alg := range []string{AlgorithmProb, AlgorithmQueue, AlgorithmFlat, AlgorithmMRF} {
		g := gridGraph(4, 0.1)
		cfg := AgglomerationConfig{Algorithm: alg, Threshold: 0.5}
		m, report, err := Process(context.Background(), g, nil, cfg, RefineConfig{})
		require.NoError(t, err, alg)
		require.Equal(t, 1, g.NumNodes(), alg)
		require.Equal(t, 15, m.Len(), alg)
		require.Equal(t, alg, report.Algorithm)
	}
}

func TestProcessRefine(t *testing.T) {
	g := gridGraph(4, 0.7)
	cfg := AgglomerationConfig{Algorithm: AlgorithmProb, Threshold: 0.5}
	_, report, err := Process(context.Background(), g, nil, cfg, RefineConfig{Enabled: true, SubsetSize: 3})
	require.NoError(t, err)
	require.Zero(t, report.Merges)
	require.NotNil(t, report.Refined)
	require.Equal(t, 24, report.Refined.Edges)
	require.Greater(t, report.Refined.Updated, 0)
}

func TestProcessCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Process(ctx, gridGraph(3, 0.1), nil, AgglomerationConfig{Threshold: 0.5}, RefineConfig{})
	require.ErrorIs(t, err, context.Canceled)
}

// expiringContext reports cancellation once Err has been asked a fixed
// number of times.
type expiringContext struct {
	context.Context
	checks int
}

func (c *expiringContext) Err() error {
	if c.checks <= 0 {
		return context.Canceled
	}
	c.checks--
	return nil
}

func TestProcessCanceledMidLoop(t *testing.T) {
	ctx := &expiringContext{Context: context.Background(), checks: 3}
	g := gridGraph(4, 0.1)
	_, _, err := Process(ctx, g, nil, AgglomerationConfig{Threshold: 0.5}, RefineConfig{})
	require.ErrorIs(t, err, context.Canceled)
	require.Contains(t, err.Error(), "during agglomeration")
	require.Greater(t, g.NumNodes(), 1)
	require.NoError(t, g.Check())
}
