package payload

import (
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
)

// Flat is an object owning a single contiguous buffer.
type Flat struct {
	buf       []byte // nil once freed
	pin       pin
	finalizer func()
}

// NewFlat allocates a Flat object of spec.Size bytes.
func NewFlat(spec bucket.ObjectSpec, stats *Statistics) (*Flat, error) {
	if err := checkSize(spec.Size, FlatOverhead); err != nil {
		return nil, err
	}
	numConstructed.Add(1)
	stats.chargeHeader(flatObjectSize)
	stats.chargeBody(spec.Region, spec.Size-flatObjectSize)

	return &Flat{
		buf:       make([]byte, spec.Size-FlatOverhead),
		pin:       newPin(spec.Pinned),
		finalizer: newFinalizer(spec.Finalizable),
	}, nil
}

// TotalSize returns the object size including overhead.
func (f *Flat) TotalSize() uint64 {
	if f.buf == nil {
		doubleFree("flat object used after free")
	}
	return FlatOverhead + uint64(len(f.buf))
}

// Payload returns the owned buffer.
func (f *Flat) Payload() []byte {
	if f.buf == nil {
		doubleFree("flat object used after free")
	}
	return f.buf
}

// Pinned reports whether the buffer holds a pin record.
func (f *Flat) Pinned() bool { return f.pin.held }

// Freed reports whether Free has been called.
func (f *Flat) Freed() bool { return f.buf == nil }

// Free releases the buffer and runs the destructor callback.
func (f *Flat) Free() {
	if f.buf == nil {
		doubleFree("flat object")
	}
	numFreed.Add(1)
	f.pin.release()
	f.buf = nil
	if f.finalizer != nil {
		f.finalizer()
		f.finalizer = nil
	}
}
