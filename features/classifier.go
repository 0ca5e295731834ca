package features

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"github.com/coocood/freecache"
	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
)

// Classifier maps a feature vector to a merge probability in [0, 1].  Low
// values mean the two regions likely belong to the same body.
type Classifier interface {
	Score(features []float64) float64
}

// LogisticClassifier is a linear model squashed by the logistic function.
// Features beyond the number of weights are ignored.
type LogisticClassifier struct {
	Weights []float64 `yaml:"weights"`
	Bias    float64   `yaml:"bias"`
}

func (c *LogisticClassifier) Score(features []float64) float64 {
	n := len(c.Weights)
	if len(features) < n {
		n = len(features)
	}
	z := c.Bias
	if n > 0 {
		z += floats.Dot(c.Weights[:n], features[:n])
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// ParseLogistic decodes a YAML model with "weights" and "bias" keys.
func ParseLogistic(data []byte) (*LogisticClassifier, error) {
	var c LogisticClassifier
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("could not parse logistic model: %v", err)
	}
	for i, w := range c.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("logistic model weight %d is not finite", i)
		}
	}
	return &c, nil
}

// LoadLogistic reads a YAML model file.
func LoadLogistic(path string) (*LogisticClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read classifier %q: %v", path, err)
	}
	c, err := ParseLogistic(data)
	if err != nil {
		return nil, fmt.Errorf("classifier %q: %v", path, err)
	}
	np.Infof("Loaded logistic classifier %q with %d weights\n", path, len(c.Weights))
	return c, nil
}

// CachedClassifier memoizes scores by feature vector.  Re-scoring dirty edges
// often sees identical vectors, e.g., after joins that did not change either
// node.  It is safe for concurrent use if the wrapped classifier is.
type CachedClassifier struct {
	Classifier

	cache    *freecache.Cache
	attempts uint64
	hits     uint64
}

// NewCachedClassifier wraps c with a cache of roughly numBytes bytes.
func NewCachedClassifier(c Classifier, numBytes int) *CachedClassifier {
	np.Infof("Created score cache of %s\n", np.Bytes(uint64(numBytes)))
	return &CachedClassifier{
		Classifier: c,
		cache:      freecache.NewCache(numBytes),
	}
}

func featureKey(features []float64) []byte {
	b := make([]byte, 8*len(features))
	for i, f := range features {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(f))
	}
	return b
}

func (c *CachedClassifier) Score(features []float64) float64 {
	atomic.AddUint64(&c.attempts, 1)
	k := featureKey(features)
	val, err := c.cache.Get(k)
	if err == nil && len(val) == 8 {
		atomic.AddUint64(&c.hits, 1)
		return math.Float64frombits(binary.LittleEndian.Uint64(val))
	}
	if err != nil && err != freecache.ErrNotFound {
		np.Errorf("score cache lookup failed: %v\n", err)
	}
	score := c.Classifier.Score(features)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(score))
	if err := c.cache.Set(k, buf, 0); err != nil {
		np.Debugf("could not cache score of %d-feature vector: %v\n", len(features), err)
	}
	return score
}

// Stats returns the number of lookups and cache hits so far.
func (c *CachedClassifier) Stats() (attempts, hits uint64) {
	return atomic.LoadUint64(&c.attempts), atomic.LoadUint64(&c.hits)
}
