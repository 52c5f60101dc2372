package bloom

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrConfigOverflow = errors.New("bloom: filter size overflows supported range")
	ErrBadConfig      = errors.New("bloom: invalid filter parameters")
	ErrSizeMismatch   = errors.New("bloom: filter sizes differ")
	ErrBadLayout      = errors.New("bloom: byte layout does not fit filter size")
)

// Config describes a filter shape.
type Config struct {
	// Items is the expected number of inserted items (n).
	Items int
	// FalsePositive is the denominator p of the false-positive rate 1/p.
	FalsePositive int
	// Bits is the filter width m.
	Bits int
	// Hashes is the number of bit positions per item (k).
	Hashes int
}

// NewConfig computes m and k for n items at a 1/p false-positive rate.
func NewConfig(items, falsePositive int) (Config, error) {
	if items <= 0 || falsePositive <= 1 {
		return Config{}, fmt.Errorf("%w: items=%d falsePositive=%d", ErrBadConfig, items, falsePositive)
	}

	bits := math.Ceil(float64(items) * math.Log(float64(falsePositive)) / (math.Ln2 * math.Ln2))
	if bits > math.MaxInt32 {
		return Config{}, fmt.Errorf("%w: %.0f bits", ErrConfigOverflow, bits)
	}
	hashes := math.Round(math.Ln2 * bits / float64(items))
	if hashes > math.MaxInt32 {
		return Config{}, fmt.Errorf("%w: %.0f hash functions", ErrConfigOverflow, hashes)
	}
	if hashes < 1 {
		hashes = 1
	}

	return Config{
		Items:         items,
		FalsePositive: falsePositive,
		Bits:          int(bits),
		Hashes:        int(hashes),
	}, nil
}

// Bytes is the serialized width, ceil(m/8).
func (c Config) Bytes() int {
	return (c.Bits + 7) / 8
}

func (c Config) String() string {
	return fmt.Sprintf("n=%d p=1/%d m=%d k=%d", c.Items, c.FalsePositive, c.Bits, c.Hashes)
}
