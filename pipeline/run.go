package pipeline

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/twinj/uuid"

	"github.com/janelia-flyem/NeuroProof-sub000/agglo"
	"github.com/janelia-flyem/NeuroProof-sub000/features"
	"github.com/janelia-flyem/NeuroProof-sub000/labelmap"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
	"github.com/janelia-flyem/NeuroProof-sub000/rag"
	"github.com/janelia-flyem/NeuroProof-sub000/ragio"
	"github.com/janelia-flyem/NeuroProof-sub000/refine"
	"github.com/janelia-flyem/NeuroProof-sub000/volume"
)

// Report summarizes an agglomeration run.
type Report struct {
	RunID     string  `json:"run_id"`
	Version   string  `json:"version"`
	Algorithm string  `json:"algorithm"`
	Threshold float64 `json:"threshold"`

	InitialNodes int `json:"initial_nodes"`
	InitialEdges int `json:"initial_edges"`
	Nodes        int `json:"nodes"`
	Edges        int `json:"edges"`

	Merges          int            `json:"merges"`
	MitoMerges      int            `json:"mito_merges"`
	InclusionMerges int            `json:"inclusion_merges"`
	Refined         *refine.Result `json:"refined,omitempty"`

	Memory  string        `json:"memory"`
	Elapsed time.Duration `json:"elapsed"`
	Outputs []string      `json:"outputs,omitempty"`
}

// Input is a loaded graph and what it was built from.
type Input struct {
	Graph    *rag.Graph
	Features *features.Manager // nil for interchange inputs
	Labels   *volume.Labels    // nil unless built from a volume
	Meta     ragio.Meta
}

// LoadClassifier returns the configured classifier or nil if none is set.
func LoadClassifier(cfg ClassifierConfig) (features.Classifier, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	lc, err := features.LoadLogistic(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.CacheMB > 0 {
		return features.NewCachedClassifier(lc, cfg.CacheMB*1024*1024), nil
	}
	return lc, nil
}

// NewFeatureManager returns a manager over the given number of channels with
// the configured features.
func NewFeatureManager(cfg FeaturesConfig, channels int) (*features.Manager, error) {
	fm := features.NewManager(channels)
	if channels == 0 {
		return fm, nil
	}
	if cfg.Basic {
		if err := fm.SetBasicFeatures(); err != nil {
			return nil, err
		}
	} else if err := fm.AddMomentFeature(1, false); err != nil {
		return nil, err
	}
	if cfg.Inclusiveness {
		if err := fm.AddInclusivenessFeature(false); err != nil {
			return nil, err
		}
	}
	return fm, nil
}

// Load reads the configured input.  Volumes are scanned into a graph whose
// edges are scored by the classifier, or by their mean prediction on the
// first channel when there is none.
func Load(cfg *Config, classifier features.Classifier) (*Input, error) {
	switch {
	case cfg.Input.Graph != "":
		g, meta, err := ragio.ImportFile(cfg.Input.Graph)
		if err != nil {
			return nil, err
		}
		return &Input{Graph: g, Meta: meta}, nil

	case cfg.Input.Snapshot != "":
		f, err := os.Open(cfg.Input.Snapshot)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		g, meta, err := ragio.ReadSnapshot(f)
		if err != nil {
			return nil, err
		}
		return &Input{Graph: g, Meta: meta}, nil

	case cfg.Input.Labels != "":
		size := volume.Point3d(cfg.Input.Size)
		labels, err := volume.ReadLabelsFile(cfg.Input.Labels, size)
		if err != nil {
			return nil, err
		}
		preds := make([]*volume.Channel, len(cfg.Input.Predictions))
		for i, path := range cfg.Input.Predictions {
			if preds[i], err = volume.ReadChannelFile(path, size); err != nil {
				return nil, err
			}
		}
		fm, err := NewFeatureManager(cfg.Features, len(preds))
		if err != nil {
			return nil, err
		}
		opts := volume.Options{
			ClassifyMito:  cfg.Features.ClassifyMito,
			MitoChannel:   cfg.Features.MitoChannel,
			MitoThreshold: cfg.Features.MitoThreshold,
		}
		g, err := volume.Build(labels, preds, fm, opts)
		if err != nil {
			return nil, err
		}
		in := &Input{Graph: g, Features: fm, Labels: labels}
		if classifier != nil {
			fm.SetClassifier(classifier)
			return in, nil
		}
		np.Infof("No classifier given, scoring edges by mean boundary prediction\n")
		for _, e := range g.Edges() {
			if mean, ok := fm.EdgeMean(e.Key(), 0); ok {
				e.Weight = mean
			}
		}
		in.Features = nil
		return in, nil
	}
	return nil, fmt.Errorf("no input configured")
}

func checkCanceled(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run canceled before %s: %w", stage, err)
	}
	return nil
}

// Process agglomerates a graph in place and returns the resulting label
// mapping.  fm may be nil to rank edges by their stored weights.
func Process(ctx context.Context, g *rag.Graph, fm *features.Manager, cfg AgglomerationConfig, rcfg RefineConfig) (*labelmap.Mapping, *Report, error) {
	start := time.Now()
	report := &Report{
		RunID:        uuid.NewV4().String(),
		Version:      np.Version,
		Algorithm:    cfg.Algorithm,
		Threshold:    cfg.Threshold,
		InitialNodes: g.NumNodes(),
		InitialEdges: g.NumEdges(),
	}
	if report.Algorithm == "" {
		report.Algorithm = AlgorithmProb
	}
	a := agglo.New(g, fm, agglo.Options{
		UseMito:           cfg.UseMito,
		UseEdgeWeight:     cfg.UseEdgeWeight,
		SynapseIgnoreSize: cfg.SynapseIgnoreSize,
		PrepassThreshold:  cfg.PrepassThreshold,
		MaxIterations:     cfg.MaxIterations,
		Stop:              func() bool { return ctx.Err() != nil },
	})

	if err := checkCanceled(ctx, "agglomeration"); err != nil {
		return nil, nil, err
	}
	switch report.Algorithm {
	case AlgorithmProb:
		report.Merges = a.Agglomerate(cfg.Threshold)
	case AlgorithmQueue:
		report.Merges = a.AgglomerateQueue(cfg.Threshold)
	case AlgorithmFlat:
		report.Merges = a.AgglomerateFlat(cfg.Threshold)
	case AlgorithmMRF:
		report.Merges = a.AgglomerateMRF(cfg.Threshold)
	default:
		return nil, nil, fmt.Errorf("unknown agglomeration algorithm %q", report.Algorithm)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("run canceled during agglomeration: %w", err)
	}

	if cfg.MitoThreshold > 0 {
		if err := checkCanceled(ctx, "mito agglomeration"); err != nil {
			return nil, nil, err
		}
		report.MitoMerges = a.AgglomerateMito(cfg.MitoThreshold)
		if err := ctx.Err(); err != nil {
			return nil, nil, fmt.Errorf("run canceled during mito agglomeration: %w", err)
		}
	}
	if cfg.RemoveInclusions {
		if err := checkCanceled(ctx, "inclusion removal"); err != nil {
			return nil, nil, err
		}
		report.InclusionMerges = a.RemoveInclusions()
	}
	if rcfg.Enabled {
		if err := checkCanceled(ctx, "refinement"); err != nil {
			return nil, nil, err
		}
		if !cfg.UseEdgeWeight {
			for _, e := range g.Edges() {
				if e.Eligible() {
					e.Weight = a.Probability(e)
				}
			}
		}
		res, err := refine.New(g, fm, refine.Options{
			SubsetSize: rcfg.SubsetSize,
			Workers:    rcfg.Workers,
		}).Refine(ctx)
		if err != nil {
			return nil, nil, err
		}
		report.Refined = &res
	}

	a.Mapping.Compress()
	report.Nodes, report.Edges = g.NumNodes(), g.NumEdges()
	report.Memory = np.MemoryOf(g)
	report.Elapsed = time.Since(start)
	np.Infof("Run %s: %s -> %s nodes with %s merges (%s mito, %s inclusions), graph uses %s\n",
		report.RunID, np.Comma(report.InitialNodes), np.Comma(report.Nodes), np.Comma(report.Merges),
		np.Comma(report.MitoMerges), np.Comma(report.InclusionMerges), report.Memory)
	return a.Mapping, report, nil
}

// Run executes a configured agglomeration from input to outputs.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classifier, err := LoadClassifier(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	in, err := Load(cfg, classifier)
	if err != nil {
		return nil, err
	}
	mapping, report, err := Process(ctx, in.Graph, in.Features, cfg.Agglomeration, cfg.Refine)
	if err != nil {
		return nil, err
	}
	if cc, ok := classifier.(*features.CachedClassifier); ok {
		attempts, hits := cc.Stats()
		np.Debugf("Classifier cache: %s hits of %s lookups\n", np.Comma(int(hits)), np.Comma(int(attempts)))
	}
	if err := writeOutputs(cfg, in, mapping, report); err != nil {
		return report, err
	}
	return report, nil
}

func writeOutputs(cfg *Config, in *Input, mapping *labelmap.Mapping, report *Report) error {
	out := cfg.Output
	meta := ragio.Meta{RunID: report.RunID}
	if out.Graph != "" {
		if err := ragio.ExportFile(out.Graph, in.Graph, meta); err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, out.Graph)
	}
	if out.Snapshot != "" {
		compress, err := np.ParseCompression(out.Compression)
		if err != nil {
			return err
		}
		f, err := os.Create(out.Snapshot)
		if err != nil {
			return err
		}
		if err := ragio.WriteSnapshot(f, in.Graph, meta, compress); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, out.Snapshot)
	}
	if out.Mapping != "" {
		f, err := os.Create(out.Mapping)
		if err != nil {
			return err
		}
		if err := labelmap.WriteArrow(f, mapping); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, out.Mapping)
	}
	if out.MappingMsgp != "" {
		data, err := mapping.MarshalMsg(nil)
		if err != nil {
			return fmt.Errorf("unable to encode label mapping: %v", err)
		}
		if err := ioutil.WriteFile(out.MappingMsgp, data, 0644); err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, out.MappingMsgp)
	}
	if out.Labels != "" {
		if in.Labels == nil {
			np.Warningf("Skipping relabeled volume output: input was not a label volume\n")
		} else {
			if err := volume.WriteLabelsFile(out.Labels, volume.Relabel(in.Labels, mapping)); err != nil {
				return err
			}
			report.Outputs = append(report.Outputs, out.Labels)
		}
	}
	if cfg.Store.Path != "" {
		store, err := labelmap.OpenStore(cfg.Store)
		if err != nil {
			return err
		}
		if err := store.Put(mapping); err != nil {
			store.Close()
			return err
		}
		if err := store.Close(); err != nil {
			return err
		}
		report.Outputs = append(report.Outputs, cfg.Store.Path)
	}
	return nil
}
