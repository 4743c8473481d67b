package payload

import "github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"

// Statistics collects the bytes one worker's constructors charged to each
// region. The coordinator hands every worker its own instance, so no
// synchronization is needed.
type Statistics struct {
	regions bucket.RegionBytes
}

// NewStatistics returns an empty Statistics.
func NewStatistics() *Statistics {
	return &Statistics{}
}

// Regions returns the bytes charged so far.
func (s *Statistics) Regions() bucket.RegionBytes {
	if s == nil {
		return bucket.RegionBytes{}
	}
	return s.regions
}

func (s *Statistics) chargeHeader(n uint32) {
	if s != nil {
		s.regions.Ordinary += uint64(n)
	}
}

// chargeBody charges n bytes to the object's region.
func (s *Statistics) chargeBody(region bucket.Region, n uint32) {
	if s == nil {
		return
	}
	switch region {
	case bucket.RegionPinned:
		s.regions.Pinned += uint64(n)
	case bucket.RegionLarge:
		s.regions.Large += uint64(n)
	default:
		s.regions.Ordinary += uint64(n)
	}
}
