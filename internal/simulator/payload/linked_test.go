package payload_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/prng"
)

func newRand() *prng.Rand { return prng.New(42) }

func newLinked(t *testing.T, size uint32) *payload.Linked {
	t.Helper()
	l, err := payload.NewLinked(spec(size), nil)
	require.NoError(t, err)
	return l
}

func TestLinkedChainSizes(t *testing.T) {
	head := newLinked(t, 50+payload.LinkedOverhead)
	second := newLinked(t, 60+payload.LinkedOverhead)
	third := newLinked(t, 70+payload.LinkedOverhead)

	head.AddToEndOfList(second)
	head.AddToEndOfList(third)

	own := head.OwnSize() + second.OwnSize() + third.OwnSize()
	assert.Equal(t, own, head.TotalSize())
	assert.Equal(t, uint64(180+3*payload.LinkedOverhead), head.TotalSize())
	assert.Equal(t, 3, head.Len())
	assert.Same(t, second, head.Next())
	assert.Same(t, third, second.Next())

	tail := head.FreeHead()
	require.NotNil(t, tail)
	assert.True(t, head.Freed())
	assert.Equal(t, second.OwnSize()+third.OwnSize(), tail.TotalSize())
	assert.Equal(t, tail.ChainSize(), tail.TotalSize())
	assert.Equal(t, 2, tail.Len())

	tail.Free()
	assert.True(t, second.Freed())
	assert.True(t, third.Freed())
}

func TestLinkedAppendChain(t *testing.T) {
	a := newLinked(t, 200)
	b := newLinked(t, 300)
	c := newLinked(t, 400)
	b.AddToEndOfList(c)
	a.AddToEndOfList(b)

	assert.Equal(t, uint64(900), a.TotalSize())
	assert.Equal(t, uint64(700), b.TotalSize())
	assert.Equal(t, a.ChainSize(), a.TotalSize())
	a.Free()
}

func TestLinkedInvariantUnderRandomOps(t *testing.T) {
	r := prng.New(7)
	var chains []*payload.Linked
	before := payload.ReadTotals()

	for i := 0; i < 2000; i++ {
		switch op := r.Bounded(3); {
		case op == 0 || len(chains) == 0:
			chains = append(chains, newLinked(t, r.Range(payload.LinkedOverhead+1, 2000)))
		case op == 1:
			idx := r.Bounded(uint32(len(chains)))
			chains[idx].AddToEndOfList(newLinked(t, r.Range(payload.LinkedOverhead+1, 2000)))
		default:
			idx := r.Bounded(uint32(len(chains)))
			if tail := chains[idx].FreeHead(); tail != nil {
				chains[idx] = tail
			} else {
				chains[idx] = chains[len(chains)-1]
				chains = chains[:len(chains)-1]
			}
		}
		for _, c := range chains {
			require.Equal(t, c.ChainSize(), c.TotalSize())
		}
	}

	for _, c := range chains {
		c.Free()
	}
	assert.Equal(t, before.Outstanding(), payload.ReadTotals().Outstanding())
}

func TestLinkedLongChainFreeIsIterative(t *testing.T) {
	head := newLinked(t, 97)
	tail := head
	for i := 0; i < 100_000; i++ {
		n := newLinked(t, 97)
		// Appending to the tail directly keeps construction linear.
		tail.AddToEndOfList(n)
		tail = n
	}
	assert.Equal(t, 100_001, head.Len())
	head.Free()
	assert.True(t, tail.Freed())
}
