package features

import "math"

// Cache holds accumulated statistics for one feature of one graph element.
// Merge requires a cache of the same concrete type.
type Cache interface {
	AddPoint(val float64)
	Merge(other Cache)
	Copy() Cache
	Count() uint64
}

// CountCache only counts points.
type CountCache struct {
	N uint64
}

func (c *CountCache) AddPoint(float64) {
	c.N++
}

func (c *CountCache) Merge(other Cache) {
	c.N += other.(*CountCache).N
}

func (c *CountCache) Copy() Cache {
	cp := *c
	return &cp
}

func (c *CountCache) Count() uint64 {
	return c.N
}

// MomentCache holds the raw power sums of the first len(Sums) moments.
type MomentCache struct {
	Sums []float64
	N    uint64
}

func NewMomentCache(numMoments int) *MomentCache {
	return &MomentCache{Sums: make([]float64, numMoments)}
}

func (c *MomentCache) AddPoint(val float64) {
	c.N++
	p := 1.0
	for i := range c.Sums {
		p *= val
		c.Sums[i] += p
	}
}

func (c *MomentCache) Merge(other Cache) {
	o := other.(*MomentCache)
	c.N += o.N
	for i := range c.Sums {
		c.Sums[i] += o.Sums[i]
	}
}

func (c *MomentCache) Copy() Cache {
	sums := make([]float64, len(c.Sums))
	copy(sums, c.Sums)
	return &MomentCache{Sums: sums, N: c.N}
}

func (c *MomentCache) Count() uint64 {
	return c.N
}

// Moments returns mean, variance, and the third and fourth central moments,
// truncated to the number of moments the cache tracks.  An empty cache
// returns zeros.
func (c *MomentCache) Moments() []float64 {
	out := make([]float64, len(c.Sums))
	if c.N == 0 {
		return out
	}
	n := float64(c.N)
	raw := make([]float64, 4)
	for i := 0; i < len(c.Sums) && i < 4; i++ {
		raw[i] = c.Sums[i] / n
	}
	mean := raw[0]
	central := []float64{
		mean,
		raw[1] - mean*mean,
		raw[2] - 3*mean*raw[1] + 2*math.Pow(mean, 3),
		raw[3] - 4*mean*raw[2] + 6*mean*mean*raw[1] - 3*math.Pow(mean, 4),
	}
	for i := range out {
		if i < len(central) {
			out[i] = central[i]
		}
	}
	return out
}

// HistCache is a fixed-width histogram over [0, 1] with one overflow bin
// for values of exactly 1.
type HistCache struct {
	Bins []float64
	N    uint64
}

func NewHistCache(numBins int) *HistCache {
	return &HistCache{Bins: make([]float64, numBins+1)}
}

func (c *HistCache) numBins() int {
	return len(c.Bins) - 1
}

func (c *HistCache) AddPoint(val float64) {
	i := int(val * float64(c.numBins()))
	if i < 0 {
		i = 0
	} else if i > c.numBins() {
		i = c.numBins()
	}
	c.Bins[i]++
	c.N++
}

func (c *HistCache) Merge(other Cache) {
	o := other.(*HistCache)
	c.N += o.N
	for i := range c.Bins {
		c.Bins[i] += o.Bins[i]
	}
}

func (c *HistCache) Copy() Cache {
	bins := make([]float64, len(c.Bins))
	copy(bins, c.Bins)
	return &HistCache{Bins: bins, N: c.N}
}

func (c *HistCache) Count() uint64 {
	return c.N
}

// Percentile returns the interpolated value below which fraction p of the
// points fall.  The overflow bin is folded into the last real bin first.
func (c *HistCache) Percentile(p float64) float64 {
	bins := c.numBins()
	if bins <= 0 || c.N == 0 {
		return 0
	}
	c.Bins[bins-1] += c.Bins[bins]
	c.Bins[bins] = 0

	target := float64(c.N) * p
	var cur, below float64
	spot := 0
	for i := 0; i < bins; i++ {
		cur += c.Bins[i]
		if cur >= target {
			spot = i
			break
		}
		below += c.Bins[i]
	}
	slope := cur - below
	if slope == 0 {
		return float64(spot) / float64(bins)
	}
	return ((target-below)/slope + float64(spot)) / float64(bins)
}
