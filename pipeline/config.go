package pipeline

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/NeuroProof-sub000/labelmap"
	"github.com/janelia-flyem/NeuroProof-sub000/np"
)

// Agglomeration algorithms selectable by name.
const (
	AlgorithmProb  = "prob"
	AlgorithmQueue = "queue"
	AlgorithmFlat  = "flat"
	AlgorithmMRF   = "mrf"
)

// Config is the TOML configuration of an agglomeration run.
type Config struct {
	Logging       np.LogConfig
	Input         InputConfig
	Agglomeration AgglomerationConfig
	Features      FeaturesConfig
	Classifier    ClassifierConfig
	Refine        RefineConfig
	Store         labelmap.StoreConfig
	Output        OutputConfig
}

// InputConfig names either an interchange graph or a raw label volume with its
// prediction channels.
type InputConfig struct {
	Graph       string
	Snapshot    string
	Labels      string
	Predictions []string
	Size        [3]int32
}

type AgglomerationConfig struct {
	Algorithm         string
	Threshold         float64
	MitoThreshold     float64 `toml:"mito_threshold"`
	UseMito           bool    `toml:"use_mito"`
	UseEdgeWeight     bool    `toml:"use_edge_weight"`
	RemoveInclusions  bool    `toml:"remove_inclusions"`
	MaxIterations     int     `toml:"max_iterations"`
	SynapseIgnoreSize uint64  `toml:"synapse_ignore_size"`
	PrepassThreshold  float64 `toml:"prepass_threshold"`
}

type FeaturesConfig struct {
	Basic         bool
	Inclusiveness bool
	MitoChannel   int     `toml:"mito_channel"`
	MitoThreshold float64 `toml:"mito_threshold"`
	ClassifyMito  bool    `toml:"classify_mito"`
}

type ClassifierConfig struct {
	Path    string
	CacheMB int `toml:"cache_mb"`
}

type RefineConfig struct {
	Enabled    bool
	Workers    int
	SubsetSize int `toml:"subset_size"`
}

type OutputConfig struct {
	Graph       string
	Snapshot    string
	Compression string
	Mapping     string // arrow table
	MappingMsgp string `toml:"mapping_msgp"`
	Labels      string // relabeled raw volume
}

// DefaultConfig returns the settings used for anything a file leaves out.
func DefaultConfig() *Config {
	return &Config{
		Agglomeration: AgglomerationConfig{
			Algorithm: AlgorithmProb,
			Threshold: 0.2,
		},
		Features: FeaturesConfig{
			Basic:         true,
			MitoChannel:   2,
			MitoThreshold: 0.35,
		},
		Store: labelmap.StoreConfig{CacheEntries: 1024},
	}
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	switch c.Agglomeration.Algorithm {
	case AlgorithmProb, AlgorithmQueue, AlgorithmFlat, AlgorithmMRF:
	case "":
		c.Agglomeration.Algorithm = AlgorithmProb
	default:
		return fmt.Errorf("unknown agglomeration algorithm %q", c.Agglomeration.Algorithm)
	}
	if math.IsNaN(c.Agglomeration.Threshold) || c.Agglomeration.Threshold < 0 || c.Agglomeration.Threshold > 1 {
		return fmt.Errorf("agglomeration threshold %f outside [0, 1]", c.Agglomeration.Threshold)
	}
	inputs := 0
	for _, s := range []string{c.Input.Graph, c.Input.Snapshot, c.Input.Labels} {
		if s != "" {
			inputs++
		}
	}
	if inputs != 1 {
		return fmt.Errorf("exactly one of input graph, snapshot or labels must be given")
	}
	if c.Input.Labels != "" {
		for _, v := range c.Input.Size {
			if v <= 0 {
				return fmt.Errorf("input labels need a positive size, got %v", c.Input.Size)
			}
		}
	}
	if _, err := np.ParseCompression(c.Output.Compression); err != nil {
		return err
	}
	return nil
}

// Some settings can be given as paths relative to the TOML file's own
// directory.  This converts them in place to absolute paths.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)
	paths := []*string{
		&c.Logging.Logfile,
		&c.Input.Graph,
		&c.Input.Snapshot,
		&c.Input.Labels,
		&c.Classifier.Path,
		&c.Store.Path,
		&c.Output.Graph,
		&c.Output.Snapshot,
		&c.Output.Mapping,
		&c.Output.MappingMsgp,
		&c.Output.Labels,
	}
	for i := range c.Input.Predictions {
		paths = append(paths, &c.Input.Predictions[i])
	}
	for _, p := range paths {
		if *p == "" {
			continue
		}
		abs, err := np.ConvertToAbsolute(*p, configDir)
		if err != nil {
			return fmt.Errorf("error converting %q to absolute path: %v", *p, err)
		}
		*p = abs
	}
	return nil
}

// LoadConfig decodes a TOML configuration file on top of DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := DefaultConfig()
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	np.Debugf("Loaded configuration from %s: %+v\n", filename, *c)
	return c, nil
}
