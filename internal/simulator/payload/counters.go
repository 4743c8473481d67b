package payload

import "sync/atomic"

// Process-wide object accounting. Workers share these, so every update is atomic.
var (
	numCreatedWithFinalizers atomic.Int64
	numFinalized             atomic.Int64
	numConstructed           atomic.Int64
	numFreed                 atomic.Int64
	numPinned                atomic.Int64
	numUnpinned              atomic.Int64
)

// Totals is a snapshot of the process-wide object counters.
type Totals struct {
	CreatedWithFinalizers int64 `json:"createdWithFinalizers"`
	Finalized             int64 `json:"finalized"`
	Constructed           int64 `json:"constructed"`
	Freed                 int64 `json:"freed"`
	Pinned                int64 `json:"pinned"`
	Unpinned              int64 `json:"unpinned"`
}

// Outstanding returns objects constructed but not yet freed.
func (t Totals) Outstanding() int64 {
	return t.Constructed - t.Freed
}

// ReadTotals returns the current counter values.
func ReadTotals() Totals {
	return Totals{
		CreatedWithFinalizers: numCreatedWithFinalizers.Load(),
		Finalized:             numFinalized.Load(),
		Constructed:           numConstructed.Load(),
		Freed:                 numFreed.Load(),
		Pinned:                numPinned.Load(),
		Unpinned:              numUnpinned.Load(),
	}
}

// NumCreatedWithFinalizers returns how many finalizable objects were created.
func NumCreatedWithFinalizers() int64 { return numCreatedWithFinalizers.Load() }

// NumFinalized returns how many finalizable objects have been destroyed.
func NumFinalized() int64 { return numFinalized.Load() }

// ResetCounters zeroes every counter. Call it between runs in one process.
func ResetCounters() {
	numCreatedWithFinalizers.Store(0)
	numFinalized.Store(0)
	numConstructed.Store(0)
	numFreed.Store(0)
	numPinned.Store(0)
	numUnpinned.Store(0)
}

func finalize() {
	numFinalized.Add(1)
}

// newFinalizer records a finalizable object and returns its destructor callback.
func newFinalizer(finalizable bool) func() {
	if !finalizable {
		return nil
	}
	numCreatedWithFinalizers.Add(1)
	return finalize
}

// pin is the record kept for a pinned buffer. The simulator only counts pins;
// buffers are never handed to code that depends on a stable address.
type pin struct {
	held bool
}

func newPin(pinned bool) pin {
	if pinned {
		numPinned.Add(1)
	}
	return pin{held: pinned}
}

func (p *pin) release() {
	if p.held {
		p.held = false
		numUnpinned.Add(1)
	}
}
