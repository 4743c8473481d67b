// Package prng provides the deterministic random source used for every
// allocation decision in a simulation run.
//
// A Rand is a 31-bit linear congruential generator. It is not safe for
// concurrent use; each worker owns its own instance so that runs are
// reproducible for a given seed.
package prng

// Rand is a linear congruential generator with a 31-bit state.
type Rand struct {
	x uint32
}

// New returns a Rand starting from seed.
func New(seed uint32) *Rand {
	return &Rand{x: seed}
}

// Seed resets the generator state.
func (r *Rand) Seed(seed uint32) {
	r.x = seed
}

// Next advances the generator and returns the raw 31-bit value.
func (r *Rand) Next() uint32 {
	r.x = (314159269*r.x + 278281) & 0x7FFFFFFF
	return r.x
}

// Bounded returns a value in [0, n). Bounded(0) is always 0.
func (r *Rand) Bounded(n uint32) uint32 {
	return uint32((uint64(r.Next()) * uint64(n)) >> 31)
}

// Range returns a value in [low, high). Range(x, x) is x.
func (r *Rand) Range(low, high uint32) uint32 {
	return low + r.Bounded(high-low)
}

// Float returns a value in [0, 1).
func (r *Rand) Float() float64 {
	return float64(r.Next()) / float64(uint64(1)<<31)
}
