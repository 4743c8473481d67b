// Package payload implements the objects the simulator allocates and keeps
// alive.
//
// Sizes follow a 64-bit managed runtime: every object carries a two-word
// header and every byte array a three-word header, and those bytes count
// towards the requested object size. An object of size n therefore owns a
// buffer of n minus the fixed overhead of its variant.
//
// Two variants exist. Flat owns a single buffer. Linked owns a buffer held
// through an extra indirection plus an exclusive link to the next node,
// which gives the collector pointers to trace.
package payload

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
)

const (
	pointerSize     = 8
	objectHeader    = 2 * pointerSize
	arrayHeader     = 3 * pointerSize
	flatObjectSize  = objectHeader + 3*pointerSize
	refPayloadSize  = objectHeader + 2*pointerSize
	linkedNodeSize  = objectHeader + 2*pointerSize + 8
	flatOverhead    = flatObjectSize + arrayHeader
	refPayloadArray = refPayloadSize + arrayHeader
)

const (
	// FlatOverhead is the smallest size a Flat object can have; it owns an
	// empty buffer at that size and construction requires strictly more.
	FlatOverhead = flatOverhead
	// FlatHeaderOverhead is the part of a Flat object that always lives in
	// the ordinary region.
	FlatHeaderOverhead = flatObjectSize
	// LinkedOverhead is the smallest size a Linked node can have.
	LinkedOverhead = linkedNodeSize + refPayloadArray
	// LinkedHeaderOverhead is the part of a Linked node that always lives in
	// the ordinary region.
	LinkedHeaderOverhead = linkedNodeSize + refPayloadSize
)

var (
	// ErrSizeBelowOverhead is returned when an object is requested that is no
	// bigger than the fixed overhead of its variant.
	ErrSizeBelowOverhead = errors.New("object size does not exceed fixed overhead")
	// ErrDoubleFree marks freeing an object that was already freed.
	ErrDoubleFree = errors.New("object already freed")
)

// Object is an allocated payload. Free releases the object and, for a
// Linked head, everything it links to.
type Object interface {
	TotalSize() uint64
	Payload() []byte
	Free()
}

// ArraySize is the size of a slot array of n references including its header.
func ArraySize(n uint32) uint64 {
	return (uint64(n) + 3) * pointerSize
}

// AllocType selects the payload variant for a whole phase.
type AllocType int

const (
	AllocSimple AllocType = iota
	AllocReference
)

func (t AllocType) String() string {
	switch t {
	case AllocSimple:
		return "simple"
	case AllocReference:
		return "reference"
	default:
		return fmt.Sprintf("allocType(%d)", int(t))
	}
}

// ParseAllocType accepts "simple" and "reference".
func ParseAllocType(s string) (AllocType, error) {
	switch strings.ToLower(s) {
	case "simple":
		return AllocSimple, nil
	case "reference":
		return AllocReference, nil
	default:
		return 0, errors.Newf("unknown allocType %q: want simple or reference", s)
	}
}

func (t AllocType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *AllocType) UnmarshalText(b []byte) error {
	v, err := ParseAllocType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MinSize is the fixed overhead of the variant; requested sizes must exceed it.
func (t AllocType) MinSize() uint32 {
	if t == AllocReference {
		return LinkedOverhead
	}
	return FlatOverhead
}

// HeaderOverhead is the part of each object charged to the ordinary region
// regardless of where the object's buffer goes.
func (t AllocType) HeaderOverhead() uint32 {
	if t == AllocReference {
		return LinkedHeaderOverhead
	}
	return FlatHeaderOverhead
}

// Factory builds objects of one variant and charges them to one Statistics.
type Factory struct {
	allocType AllocType
	stats     *Statistics
}

// NewFactory returns a Factory. stats may be nil.
func NewFactory(allocType AllocType, stats *Statistics) *Factory {
	return &Factory{allocType: allocType, stats: stats}
}

// AllocType returns the variant the factory builds.
func (f *Factory) AllocType() AllocType { return f.allocType }

// Statistics returns the handle objects are charged to.
func (f *Factory) Statistics() *Statistics { return f.stats }

// New builds an object for spec.
func (f *Factory) New(spec bucket.ObjectSpec) (Object, error) {
	if f.allocType == AllocReference {
		return NewLinked(spec, f.stats)
	}
	return NewFlat(spec, f.stats)
}

func checkSize(size, overhead uint32) error {
	if size <= overhead {
		return errors.Wrapf(ErrSizeBelowOverhead, "size %d, overhead %d", size, overhead)
	}
	return nil
}

func doubleFree(kind string) {
	panic(errors.WithAssertionFailure(errors.Wrapf(ErrDoubleFree, "%s", kind)))
}
