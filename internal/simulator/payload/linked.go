package payload

import (
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
)

// refPayload is the indirection a Linked node holds its buffer through.
type refPayload struct {
	buf []byte
	pin pin
}

func (p *refPayload) ownSize() uint64 {
	return uint64(len(p.buf)) + refPayloadArray
}

// Linked is a node of a singly linked chain. Each node exclusively owns the
// node after it; totalSize caches the size of the node plus everything
// reachable from it.
type Linked struct {
	payload   *refPayload // nil once freed
	next      *Linked
	totalSize uint64
	finalizer func()
}

// NewLinked allocates a single-node chain of spec.Size bytes.
func NewLinked(spec bucket.ObjectSpec, stats *Statistics) (*Linked, error) {
	if err := checkSize(spec.Size, LinkedOverhead); err != nil {
		return nil, err
	}
	numConstructed.Add(1)
	stats.chargeHeader(linkedNodeSize)
	stats.chargeHeader(refPayloadSize)
	stats.chargeBody(spec.Region, spec.Size-LinkedHeaderOverhead)

	return &Linked{
		payload: &refPayload{
			buf: make([]byte, spec.Size-LinkedOverhead),
			pin: newPin(spec.Pinned),
		},
		totalSize: uint64(spec.Size),
		finalizer: newFinalizer(spec.Finalizable),
	}, nil
}

// TotalSize returns the size of this node and everything it links to.
func (l *Linked) TotalSize() uint64 {
	l.mustBeLive()
	return l.totalSize
}

// OwnSize returns the size of this node alone.
func (l *Linked) OwnSize() uint64 {
	l.mustBeLive()
	return l.payload.ownSize() + linkedNodeSize
}

// Payload returns this node's buffer.
func (l *Linked) Payload() []byte {
	l.mustBeLive()
	return l.payload.buf
}

// Next returns the node this one links to, or nil.
func (l *Linked) Next() *Linked { return l.next }

// Pinned reports whether the node's buffer holds a pin record.
func (l *Linked) Pinned() bool {
	return l.payload != nil && l.payload.pin.held
}

// Freed reports whether the node has been freed.
func (l *Linked) Freed() bool { return l.payload == nil }

// Len returns the number of nodes in the chain starting at l.
func (l *Linked) Len() int {
	n := 0
	for node := l; node != nil; node = node.next {
		n++
	}
	return n
}

// ChainSize recomputes the chain size from the nodes' own sizes.
func (l *Linked) ChainSize() uint64 {
	var sum uint64
	for node := l; node != nil; node = node.next {
		sum += node.OwnSize()
	}
	return sum
}

// AddToEndOfList appends the chain headed by node after the current tail
// and grows the cached size of every node on the way.
func (l *Linked) AddToEndOfList(node *Linked) {
	node.mustBeLive()
	added := node.totalSize
	for cur := l; ; cur = cur.next {
		cur.mustBeLive()
		if cur == node {
			doubleFree("linked node appended to its own chain")
		}
		cur.totalSize += added
		if cur.next == nil {
			cur.next = node
			return
		}
	}
}

// FreeHead frees only this node and returns the rest of the chain, which the
// caller now owns.
func (l *Linked) FreeHead() *Linked {
	l.freeOwn()
	tail := l.next
	l.next = nil
	l.totalSize = 0
	return tail
}

// Free frees this node and every node after it.
func (l *Linked) Free() {
	for node := l; node != nil; {
		node = node.FreeHead()
	}
}

func (l *Linked) freeOwn() {
	if l.payload == nil {
		doubleFree("linked node")
	}
	numFreed.Add(1)
	l.payload.pin.release()
	l.payload = nil
	if l.finalizer != nil {
		l.finalizer()
		l.finalizer = nil
	}
}

func (l *Linked) mustBeLive() {
	if l.payload == nil {
		doubleFree("linked node used after free")
	}
}
