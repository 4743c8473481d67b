package bucket

import (
	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/prng"
)

// Chooser draws buckets with probability proportional to their weight.
type Chooser struct {
	buckets        []*Bucket
	combinedWeight float64
}

// NewChooser builds one Bucket per spec, in order.
func NewChooser(specs []Spec) (*Chooser, error) {
	if len(specs) == 0 {
		return nil, errors.Wrap(ErrInvalidSpec, "at least one bucket is required")
	}
	c := &Chooser{buckets: make([]*Bucket, len(specs))}
	for i, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, errors.Wrapf(err, "bucket %d", i)
		}
		c.buckets[i] = New(spec)
		c.combinedWeight += spec.Weight
	}
	return c, nil
}

// Buckets returns the buckets in spec order.
func (c *Chooser) Buckets() []*Bucket {
	return c.buckets
}

// Choose returns a bucket using a cumulative-weight linear scan.
func (c *Chooser) Choose(r *prng.Rand) *Bucket {
	next := r.Float() * c.combinedWeight
	for _, b := range c.buckets {
		if next < b.spec.Weight {
			return b
		}
		next -= b.spec.Weight
	}
	// Floating point rounding can leave next just above the last weight.
	return c.buckets[len(c.buckets)-1]
}

// Next chooses a bucket and draws an object from it.
func (c *Chooser) Next(r *prng.Rand, overhead uint32) ObjectSpec {
	return c.Choose(r).Next(r, overhead)
}

// AverageObjectSize is the weight-normalized mean of the bucket size ranges.
func (c *Chooser) AverageObjectSize() uint64 {
	var totalAverage, totalWeight float64
	for _, b := range c.buckets {
		totalAverage += float64(b.spec.SizeRange.Mean()) * b.spec.Weight
		totalWeight += b.spec.Weight
	}
	return uint64(totalAverage / totalWeight)
}

// Regions returns the bytes allocated per region summed over all buckets.
func (c *Chooser) Regions() RegionBytes {
	var total RegionBytes
	for _, b := range c.buckets {
		total = total.Add(b.regions)
	}
	return total
}
