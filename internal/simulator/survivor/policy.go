package survivor

import (
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/invariant"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/prng"
)

// createProbability is the chance, in percent, that a linked survivor starts
// a new chain when it could also extend an existing one.
const createProbability = 50

// Policy inserts a new survivor into a Set, displacing an older object.
type Policy interface {
	// Survive takes ownership of obj. rampUp is set while the set is still
	// filling and nothing should be evicted.
	Survive(s *Set, obj payload.Object, r *prng.Rand, rampUp bool)
}

// PolicyFor returns the policy matching an allocation type.
func PolicyFor(t payload.AllocType) Policy {
	if t == payload.AllocReference {
		return LinkedPolicy{}
	}
	return FlatPolicy{}
}

// FlatPolicy overwrites a uniformly random slot.
type FlatPolicy struct{}

func (FlatPolicy) Survive(s *Set, obj payload.Object, r *prng.Rand, _ bool) {
	if s.Length() == 0 {
		obj.Free()
		return
	}
	s.Replace(r.Bounded(s.Length()), obj)
}

// LinkedPolicy keeps chains of varying length in the occupied prefix: it pops
// the head of a random chain, then either starts a new chain with obj or
// appends obj to a random existing one.
type LinkedPolicy struct{}

func (LinkedPolicy) Survive(s *Set, obj payload.Object, r *prng.Rand, rampUp bool) {
	if s.Length() == 0 {
		obj.Free()
		return
	}
	node := mustLinked(obj)

	if !rampUp && s.nonEmptyLength > 0 {
		victimIndex := r.Bounded(s.nonEmptyLength)
		victim := mustLinked(s.TakeAndDetach(victimIndex))
		if tail := victim.FreeHead(); tail != nil {
			s.Replace(victimIndex, tail)
		} else {
			last := s.nonEmptyLength - 1
			if victimIndex != last {
				s.Replace(victimIndex, s.TakeAndDetach(last))
			}
			s.nonEmptyLength--
		}
	}

	var create bool
	switch {
	case s.nonEmptyLength == 0:
		create = true
	case s.nonEmptyLength == s.Length():
		create = false
	default:
		create = r.Bounded(100) < createProbability
	}

	if create {
		s.Replace(s.nonEmptyLength, node)
		s.nonEmptyLength++
		return
	}
	extendIndex := r.Bounded(s.nonEmptyLength)
	chain := mustLinked(s.TakeAndDetach(extendIndex))
	chain.AddToEndOfList(node)
	s.Replace(extendIndex, chain)
}

func mustLinked(obj payload.Object) *payload.Linked {
	l, ok := obj.(*payload.Linked)
	invariant.Check(ok && l != nil, "linked survivor policy got %T", obj)
	return l
}
