package workload

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/container-resource-predictor/gcperfsim/internal/simulator/bucket"
	"github.com/container-resource-predictor/gcperfsim/internal/simulator/payload"
)

// fileConfig is the YAML form of a Config. threadCount and compute at the top
// level are defaults for phases that do not set their own.
type fileConfig struct {
	ThreadCount           uint32      `yaml:"threadCount"`
	Compute               uint32      `yaml:"compute"`
	PrintEveryNthIter     uint32      `yaml:"printEveryNthIter"`
	VerifyLiveSize        bool        `yaml:"verifyLiveSize"`
	FinishWithFullCollect bool        `yaml:"finishWithFullCollect"`
	EndPanic              bool        `yaml:"endPanic"`
	Seed                  uint32      `yaml:"seed"`
	Phases                []filePhase `yaml:"phases"`
}

type filePhase struct {
	TestKind     TestKind          `yaml:"testKind"`
	AllocType    payload.AllocType `yaml:"allocType"`
	ThreadCount  *uint32           `yaml:"threadCount"`
	Compute      *uint32           `yaml:"compute"`
	TotalLive    *ByteSize         `yaml:"totalLive"`
	TotalAlloc   ByteSize          `yaml:"totalAlloc"`
	RequestLive  ByteSize          `yaml:"requestLive"`
	RequestAlloc ByteSize          `yaml:"requestAlloc"`
	TotalMinutes float64           `yaml:"totalMinutes"`
	Buckets      []fileBucket      `yaml:"buckets"`
}

func (p *filePhase) UnmarshalYAML(value *yaml.Node) error {
	type plain filePhase
	*p = filePhase{TestKind: TestTime, AllocType: payload.AllocReference}
	return decodeStrict(value, (*plain)(p))
}

type fileBucket struct {
	LowSize             uint32  `yaml:"lowSize"`
	HighSize            uint32  `yaml:"highSize"`
	SurvInterval        uint32  `yaml:"survInterval"`
	ReqSurvInterval     uint32  `yaml:"reqSurvInterval"`
	PinInterval         uint32  `yaml:"pinInterval"`
	FinalizableInterval uint32  `yaml:"finalizableInterval"`
	Weight              float64 `yaml:"weight"`
	IsPoh               bool    `yaml:"isPoh"`
	SizeDistribution    bool    `yaml:"sizeDistribution"`
}

func (b *fileBucket) UnmarshalYAML(value *yaml.Node) error {
	type plain fileBucket
	*b = fileBucket{
		LowSize:             DefaultOrdinaryLow,
		HighSize:            DefaultOrdinaryHigh,
		SurvInterval:        DefaultOrdinarySurvInterval,
		ReqSurvInterval:     DefaultReqOrdinarySurv,
		PinInterval:         DefaultPinInterval,
		FinalizableInterval: DefaultFinalizableInterval,
		Weight:              1,
	}
	return decodeStrict(value, (*plain)(b))
}

// specs expands the bucket, possibly into a whole size distribution limited
// to the bucket's size range.
func (b fileBucket) specs() []bucket.Spec {
	spec := bucket.Spec{
		SizeRange:           bucket.SizeRange{Low: b.LowSize, High: b.HighSize},
		SurvInterval:        b.SurvInterval,
		ReqSurvInterval:     b.ReqSurvInterval,
		PinInterval:         b.PinInterval,
		FinalizableInterval: b.FinalizableInterval,
		Weight:              b.Weight,
		IsPoh:               b.IsPoh,
	}
	if !b.SizeDistribution {
		return []bucket.Spec{spec}
	}
	slots := bucket.OrdinaryAndLargeSlots
	if b.IsPoh {
		slots = bucket.PinnedSlots
	}
	return bucket.FromDistribution(slots, spec.SizeRange, spec, payload.LinkedHeaderOverhead)
}

// decodeStrict decodes node rejecting unknown keys. Node.Decode alone does
// not inherit KnownFields from the outer decoder.
func decodeStrict(node *yaml.Node, out interface{}) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	return nil
}

// Load reads and validates a YAML workload file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading workload file %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "workload file %s", path)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML workload document. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	fc := fileConfig{ThreadCount: 1}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decoding workload"), ErrInvalidConfig)
	}

	cfg := &Config{
		VerifyLiveSize:        fc.VerifyLiveSize,
		PrintEveryNthIter:     fc.PrintEveryNthIter,
		FinishWithFullCollect: fc.FinishWithFullCollect,
		EndPanic:              fc.EndPanic,
		Seed:                  fc.Seed,
	}
	for i, fp := range fc.Phases {
		phase, err := fp.phase(fc)
		if err != nil {
			return nil, errors.Wrapf(err, "phase %d", i)
		}
		cfg.Phases = append(cfg.Phases, phase)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fp filePhase) phase(fc fileConfig) (Phase, error) {
	threads, compute := fc.ThreadCount, fc.Compute
	if fp.ThreadCount != nil {
		threads = *fp.ThreadCount
	}
	if fp.Compute != nil {
		compute = *fp.Compute
	}
	if threads == 0 {
		return Phase{}, errors.Wrap(ErrInvalidConfig, "cannot have 0 threads")
	}
	if fp.TotalLive == nil {
		return Phase{}, errors.Wrap(ErrInvalidConfig, "totalLive must be set")
	}
	if len(fp.Buckets) == 0 {
		return Phase{}, errors.Wrap(ErrInvalidConfig, "phase must end with buckets")
	}

	var specs []bucket.Spec
	for _, b := range fp.Buckets {
		specs = append(specs, b.specs()...)
	}
	return Phase{
		TestKind:          fp.TestKind,
		AllocType:         fp.AllocType,
		TotalLiveBytes:    PerThread(uint64(*fp.TotalLive), threads),
		TotalAllocBytes:   PerThread(uint64(fp.TotalAlloc), threads),
		RequestLiveBytes:  uint64(fp.RequestLive),
		RequestAllocBytes: uint64(fp.RequestAlloc),
		Duration:          minutesToDuration(fp.TotalMinutes),
		Buckets:           specs,
		ThreadCount:       threads,
		Compute:           compute,
	}, nil
}
