// Package survivor keeps the objects a worker holds alive between
// allocations and decides which old object a new survivor displaces.
package survivor

import (
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/invariant"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
)

// Set is a fixed-capacity array of owned objects. TotalLiveBytes counts the
// array itself plus every object it holds and is kept current by every
// mutation.
type Set struct {
	items          []payload.Object
	totalLiveBytes uint64
	// nonEmptyLength delimits the occupied prefix under the linked policy.
	nonEmptyLength uint32
}

// New returns a Set of n slots whose occupied prefix covers every slot; it
// is meant to be filled with Initialize right away.
func New(n uint32) *Set {
	return &Set{
		items:          make([]payload.Object, n),
		totalLiveBytes: payload.ArraySize(n),
		nonEmptyLength: n,
	}
}

// NewEmpty returns a Set of n slots with an empty occupied prefix; it fills
// up through the replacement policy.
func NewEmpty(n uint32) *Set {
	s := New(n)
	s.nonEmptyLength = 0
	return s
}

// Length returns the capacity.
func (s *Set) Length() uint32 { return uint32(len(s.items)) }

// NonEmptyLength returns the size of the occupied prefix.
func (s *Set) NonEmptyLength() uint32 { return s.nonEmptyLength }

// TotalLiveBytes returns the incrementally maintained live size.
func (s *Set) TotalLiveBytes() uint64 { return s.totalLiveBytes }

// OwnSize is the size of the slot array alone.
func (s *Set) OwnSize() uint64 { return payload.ArraySize(s.Length()) }

// Peek returns the object in slot i without changing ownership.
func (s *Set) Peek(i uint32) payload.Object { return s.items[s.index(i)] }

// Initialize stores obj in the empty slot i.
func (s *Set) Initialize(i uint32, obj payload.Object) {
	i = s.index(i)
	invariant.Check(s.items[i] == nil, "initializing occupied slot %d", i)
	s.items[i] = obj
	s.totalLiveBytes += obj.TotalSize()
}

// Free releases the object in slot i, if any.
func (s *Set) Free(i uint32) {
	i = s.index(i)
	obj := s.items[i]
	if obj == nil {
		return
	}
	s.items[i] = nil
	s.totalLiveBytes -= obj.TotalSize()
	obj.Free()
}

// Replace frees slot i and stores obj in it.
func (s *Set) Replace(i uint32, obj payload.Object) {
	s.Free(i)
	s.items[i] = obj
	s.totalLiveBytes += obj.TotalSize()
}

// TakeAndDetach empties slot i and returns its object without freeing it.
// The caller owns the returned object.
func (s *Set) TakeAndDetach(i uint32) payload.Object {
	i = s.index(i)
	obj := s.items[i]
	if obj != nil {
		s.items[i] = nil
		s.totalLiveBytes -= obj.TotalSize()
	}
	return obj
}

// FreeAll frees every slot.
func (s *Set) FreeAll() {
	for i := range s.items {
		s.Free(uint32(i))
	}
	invariant.Check(s.totalLiveBytes == s.OwnSize(),
		"survivor set holds %d bytes after freeing everything, want %d", s.totalLiveBytes, s.OwnSize())
}

// LiveSize recomputes the live size from the slots.
func (s *Set) LiveSize() uint64 {
	size := s.OwnSize()
	for _, obj := range s.items {
		if obj != nil {
			size += obj.TotalSize()
		}
	}
	return size
}

// VerifyLiveSize panics with an assertion failure when the maintained live
// size disagrees with a full recount.
func (s *Set) VerifyLiveSize() {
	if live := s.LiveSize(); live != s.totalLiveBytes {
		invariant.Failf("survivor set live size is %d, tracked %d", live, s.totalLiveBytes)
	}
}

func (s *Set) index(i uint32) uint32 {
	invariant.Check(i < uint32(len(s.items)), "slot %d out of range [0, %d)", i, len(s.items))
	return i
}
