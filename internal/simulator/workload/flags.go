package workload

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
)

// Defaults for buckets that do not say otherwise.
const (
	DefaultOrdinaryLow          = 100
	DefaultOrdinaryHigh         = 4000
	DefaultOrdinarySurvInterval = 30
	DefaultLargeLow             = 100 * 1024
	DefaultLargeHigh            = 200 * 1024
	DefaultLargeSurvInterval    = 5
	DefaultPinnedLow            = 100
	DefaultPinnedHigh           = 200 * 1024
	DefaultPinInterval          = 100
	DefaultFinalizableInterval  = 0
	DefaultReqOrdinarySurv      = 3
	DefaultReqLargeSurv         = 2
)

// RegionFlags are the per-region bucket settings of a flag-built workload.
type RegionFlags struct {
	SizeRange           bucket.SizeRange
	SurvInterval        uint32
	ReqSurvInterval     uint32
	PinInterval         uint32
	FinalizableInterval uint32
}

// Flags is the single-phase workload described on the command line.
type Flags struct {
	TestKind    TestKind
	AllocType   payload.AllocType
	ThreadCount uint32

	// Per-mille shares of allocated bytes in the large and pinned regions;
	// the ordinary region gets the rest.
	LargeAllocRatio  uint32
	PinnedAllocRatio uint32

	// TotalLiveGB and TotalAllocGB are nil when not given.
	TotalLiveGB    *float64
	TotalAllocGB   *float64
	RequestLiveMB  float64
	RequestAllocMB float64
	TotalMinutes   float64

	Ordinary RegionFlags
	Large    RegionFlags
	Pinned   RegionFlags

	SizeDistribution bool

	Compute               uint32
	VerifyLiveSize        bool
	PrintEveryNthIter     uint32
	FinishWithFullCollect bool
	EndPanic              bool
	Seed                  uint32
}

// DefaultFlags returns the defaults of every flag.
func DefaultFlags() Flags {
	return Flags{
		TestKind:    TestTime,
		AllocType:   payload.AllocReference,
		ThreadCount: 4,
		Ordinary: RegionFlags{
			SizeRange:           bucket.SizeRange{Low: DefaultOrdinaryLow, High: DefaultOrdinaryHigh},
			SurvInterval:        DefaultOrdinarySurvInterval,
			ReqSurvInterval:     DefaultReqOrdinarySurv,
			PinInterval:         DefaultPinInterval,
			FinalizableInterval: DefaultFinalizableInterval,
		},
		Large: RegionFlags{
			SizeRange:           bucket.SizeRange{Low: DefaultLargeLow, High: DefaultLargeHigh},
			SurvInterval:        DefaultLargeSurvInterval,
			ReqSurvInterval:     DefaultReqLargeSurv,
			PinInterval:         DefaultPinInterval,
			FinalizableInterval: DefaultFinalizableInterval,
		},
		Pinned: RegionFlags{
			SizeRange: bucket.SizeRange{Low: DefaultPinnedLow, High: DefaultPinnedHigh},
		},
	}
}

// Build turns the flags into a validated Config.
func (f Flags) Build() (*Config, error) {
	if f.ThreadCount == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "threadCount must be at least 1")
	}
	if f.LargeAllocRatio+f.PinnedAllocRatio > 1000 {
		return nil, errors.Wrapf(ErrInvalidConfig,
			"lohAllocRatio %d plus pohAllocRatio %d exceeds 1000", f.LargeAllocRatio, f.PinnedAllocRatio)
	}
	if f.Large.SizeRange.Low < bucket.LargeObjectThreshold {
		return nil, errors.Wrapf(ErrInvalidConfig,
			"lohSizeRange low %d is below the large object threshold %d", f.Large.SizeRange.Low, bucket.LargeObjectThreshold)
	}
	if f.TotalLiveGB != nil && *f.TotalLiveGB == 0 &&
		(f.Ordinary.SurvInterval != 0 || f.Large.SurvInterval != 0 || f.Pinned.SurvInterval != 0) {
		return nil, errors.Wrap(ErrInvalidConfig, "can't set sohsi, lohsi or pohsi if tlgb is 0")
	}

	minutes := f.TotalMinutes
	if f.TotalAllocGB == nil && minutes == 0 {
		minutes = 1
	}
	var live, alloc uint64
	if f.TotalLiveGB != nil {
		live = GBToBytes(*f.TotalLiveGB)
	}
	if f.TotalAllocGB != nil {
		alloc = GBToBytes(*f.TotalAllocGB)
	}

	var specs []bucket.Spec
	if f.SizeDistribution {
		specs = f.distributionBuckets()
	} else {
		specs = f.ratioBuckets()
	}

	cfg := &Config{
		Phases: []Phase{{
			TestKind:          f.TestKind,
			AllocType:         f.AllocType,
			TotalLiveBytes:    PerThread(live, f.ThreadCount),
			TotalAllocBytes:   PerThread(alloc, f.ThreadCount),
			RequestLiveBytes:  MBToBytes(f.RequestLiveMB),
			RequestAllocBytes: MBToBytes(f.RequestAllocMB),
			Duration:          minutesToDuration(minutes),
			Buckets:           specs,
			ThreadCount:       f.ThreadCount,
			Compute:           f.Compute,
		}},
		VerifyLiveSize:        f.VerifyLiveSize,
		PrintEveryNthIter:     f.PrintEveryNthIter,
		FinishWithFullCollect: f.FinishWithFullCollect,
		EndPanic:              f.EndPanic,
		Seed:                  f.Seed,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (f Flags) distributionBuckets() []bucket.Spec {
	const overhead = payload.LinkedHeaderOverhead
	var specs []bucket.Spec
	specs = append(specs, bucket.FromDistribution(bucket.OrdinaryAndLargeSlots, bucket.OrdinaryLimit, f.Ordinary.template(false), overhead)...)
	specs = append(specs, bucket.FromDistribution(bucket.OrdinaryAndLargeSlots, bucket.LargeLimit, f.Large.template(false), overhead)...)
	pinned := f.Pinned.template(true)
	pinned.PinInterval = 0
	specs = append(specs, bucket.FromDistribution(bucket.PinnedSlots, bucket.PinnedLimit, pinned, overhead)...)
	return specs
}

func (r RegionFlags) template(isPoh bool) bucket.Spec {
	return bucket.Spec{
		SurvInterval:        r.SurvInterval,
		ReqSurvInterval:     r.ReqSurvInterval,
		PinInterval:         r.PinInterval,
		FinalizableInterval: r.FinalizableInterval,
		IsPoh:               isPoh,
	}
}

// ratioBuckets builds up to one bucket per region, weighted so that the
// allocated bytes split across regions in the requested ratios.
func (f Flags) ratioBuckets() []bucket.Spec {
	ordinary, large, pinned := RegionWeights(
		f.Ordinary.SizeRange.Mean(), f.Large.SizeRange.Mean(), f.Pinned.SizeRange.Mean(),
		f.LargeAllocRatio, f.PinnedAllocRatio, float64(f.AllocType.HeaderOverhead()))

	var specs []bucket.Spec
	if large > 0 {
		s := f.Large.template(false)
		s.SizeRange = f.Large.SizeRange
		s.Weight = large
		specs = append(specs, s)
	}
	if pinned > 0 {
		s := f.Pinned.template(true)
		s.SizeRange = f.Pinned.SizeRange
		s.PinInterval = 0
		s.Weight = pinned
		specs = append(specs, s)
	}
	if ordinary > 0 {
		s := f.Ordinary.template(false)
		s.SizeRange = f.Ordinary.SizeRange
		s.Weight = ordinary
		specs = append(specs, s)
	}
	return specs
}

// RegionWeights solves for bucket weights summing to 1000 such that the
// large and pinned regions receive largeRatio and pinnedRatio per mille of
// the allocated bytes, given each region's mean object size and the header
// overhead that is always charged to the ordinary region. The 3x3 system is
// solved with Cramer's rule.
func RegionWeights(ordinaryMean, largeMean, pinnedMean uint64, largeRatio, pinnedRatio uint32, overhead float64) (ordinary, large, pinned float64) {
	lr, pr := float64(largeRatio), float64(pinnedRatio)
	or := 1000 - lr - pr
	ms, ml, mp := float64(ordinaryMean), float64(largeMean), float64(pinnedMean)

	a11, a12, a13 := -lr*(ms-overhead), or*(ml-overhead), 0.0
	a21, a22, a23 := -pr*(ms-overhead), 0.0, or*(mp-overhead)
	a31, a32, a33 := 1.0, 1.0, 1.0
	b1, b2, b3 := lr*overhead, pr*overhead, 1000.0

	det := a11*a22*a33 + a12*a23*a31 + a13*a21*a32 - a13*a22*a31 - a12*a21*a33 - a11*a23*a32
	ordinary = (b1*a22*a33 + a12*a23*b3 + a13*b2*a32 - a13*a22*b3 - a12*b2*a33 - b1*a23*a32) / det
	large = (a11*b2*a33 + b1*a23*a31 + a13*a21*b3 - a13*b2*a31 - b1*a21*a33 - a11*a23*b3) / det
	pinned = (a11*a22*b3 + a12*b2*a31 + b1*a21*a32 - b1*a22*a31 - a12*a21*b3 - a11*b2*a32) / det
	return ordinary, large, pinned
}

// ParseSizeRange parses "low-high".
func ParseSizeRange(s string) (bucket.SizeRange, error) {
	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return bucket.SizeRange{}, errors.Newf("size range %q: want low-high", s)
	}
	low, err := parseUint32(lo)
	if err != nil {
		return bucket.SizeRange{}, errors.Wrapf(err, "size range %q", s)
	}
	high, err := parseUint32(hi)
	if err != nil {
		return bucket.SizeRange{}, errors.Wrapf(err, "size range %q", s)
	}
	return bucket.SizeRange{Low: low, High: high}, nil
}

// parseUint32 accepts decimal and 0x-prefixed hex.
func parseUint32(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		s, base = rest, 16
	}
	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %q", s)
	}
	return uint32(v), nil
}

func minutesToDuration(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
