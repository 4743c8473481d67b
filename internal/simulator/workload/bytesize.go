package workload

import (
	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// ByteSize is a byte count written as a Kubernetes quantity ("512Mi", "2Gi",
// "1000").
type ByteSize uint64

// ParseByteSize parses a quantity into bytes.
func ParseByteSize(s string) (ByteSize, error) {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing byte size %q", s)
	}
	if q.Sign() < 0 {
		return 0, errors.Newf("byte size %q is negative", s)
	}
	v, ok := q.AsInt64()
	if !ok {
		return 0, errors.Newf("byte size %q is not a whole number of bytes", s)
	}
	return ByteSize(v), nil
}

func (b ByteSize) String() string {
	return resource.NewQuantity(int64(b), resource.BinarySI).String()
}

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: byte size must be a scalar", value.Line)
	}
	v, err := ParseByteSize(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}
	*b = v
	return nil
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}
