package bloom

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"
)

// maxLogExponent bounds the fractional walk of ApproximateLog
const maxLogExponent = -25

// Filter is a fixed-width bit vector. It is safe for concurrent use; the
// weight and approximate log are cached until the next mutation.
type Filter struct {
	mu   sync.RWMutex
	size int
	bits *bitset.BitSet

	weight atomic.Int64
	log    atomic.Pointer[logKey]
}

type logKey struct {
	depth int
	value float64
}

// New creates an empty filter of size bits.
func New(size int) *Filter {
	f := &Filter{
		size: size,
		bits: bitset.New(uint(size)),
	}
	f.weight.Store(-1)
	return f
}

// NewFromConfig creates an empty filter shaped by cfg.
func NewFromConfig(cfg Config) *Filter {
	return New(cfg.Bits)
}

// FromBytes restores a filter from its byte layout.
func FromBytes(size int, data []byte) (*Filter, error) {
	if len(data) != (size+7)/8 {
		return nil, fmt.Errorf("%w: %d bytes for %d bits", ErrBadLayout, len(data), size)
	}
	f := New(size)
	for i, b := range data {
		for b != 0 {
			lead := bits.LeadingZeros8(b)
			pos := i*8 + lead
			if pos >= size {
				return nil, fmt.Errorf("%w: bit %d set beyond %d", ErrBadLayout, pos, size)
			}
			f.bits.Set(uint(pos))
			b &^= 0x80 >> lead
		}
	}
	return f, nil
}

// Size is the filter width in bits.
func (f *Filter) Size() int {
	return f.size
}

// Bytes returns the ceil(size/8) byte layout, most significant bit first.
func (f *Filter) Bytes() []byte {
	out := make([]byte, (f.size+7)/8)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, ok := f.bits.NextSet(0); ok; i, ok = f.bits.NextSet(i + 1) {
		out[i/8] |= 0x80 >> (i % 8)
	}
	return out
}

// Test reports whether bit i is set.
func (f *Filter) Test(i int) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bits.Test(uint(i))
}

func (f *Filter) set(positions ...uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range positions {
		f.bits.Set(p)
	}
	f.invalidate()
}

// invalidate must be called with the write lock held
func (f *Filter) invalidate() {
	f.weight.Store(-1)
	f.log.Store(nil)
}

// Merge ORs other into f. Both filters must have the same size.
func (f *Filter) Merge(other *Filter) error {
	if other.size != f.size {
		return fmt.Errorf("%w: %d != %d", ErrSizeMismatch, f.size, other.size)
	}
	if other == f {
		return nil
	}

	f.set(other.positions()...)
	return nil
}

// Clear unsets every bit.
func (f *Filter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits.ClearAll()
	f.invalidate()
}

// Match reports whether every bit of f is also set in candidate, i.e.
// f AND candidate == f. A true result means candidate may contain what
// f was built from.
func (f *Filter) Match(candidate *Filter) bool {
	if candidate == f {
		return true
	}
	if candidate == nil || candidate.size != f.size {
		return false
	}

	target := f.positions()

	candidate.mu.RLock()
	defer candidate.mu.RUnlock()
	for _, p := range target {
		if !candidate.bits.Test(p) {
			return false
		}
	}
	return true
}

// positions snapshots the set bits so that no two filter locks are ever
// held at once.
func (f *Filter) positions() []uint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]uint, 0, f.bits.Count())
	for i, ok := f.bits.NextSet(0); ok; i, ok = f.bits.NextSet(i + 1) {
		out = append(out, i)
	}
	return out
}

// Weight is the number of set bits.
func (f *Filter) Weight() int {
	if w := f.weight.Load(); w >= 0 {
		return int(w)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	w := int64(f.bits.Count())
	f.weight.Store(w)
	return int(w)
}

// IsEmpty reports whether no bit is set.
func (f *Filter) IsEmpty() bool {
	return f.Weight() == 0
}

// ApproximateLog returns an ordering key: the index of the highest set bit,
// plus 2^(p-high) for each of the next depth set bits p below it. The walk
// stops early once the exponent drops below -25. An empty filter gives 0.
func (f *Filter) ApproximateLog(depth int) float64 {
	if cached := f.log.Load(); cached != nil && cached.depth == depth {
		return cached.value
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	words := f.bits.Bytes()
	high := prevSet(words, len(words)*64)
	if high < 0 {
		f.log.Store(&logKey{depth: depth, value: 0})
		return 0
	}

	value := float64(high)
	pos := high
	for i := 0; i < depth; i++ {
		pos = prevSet(words, pos)
		if pos < 0 {
			break
		}
		exp := pos - high
		if exp < maxLogExponent {
			break
		}
		value += math.Ldexp(1, exp)
	}

	f.log.Store(&logKey{depth: depth, value: value})
	return value
}

// prevSet returns the highest set bit strictly below limit, or -1.
func prevSet(words []uint64, limit int) int {
	if limit <= 0 || len(words) == 0 {
		return -1
	}
	i := limit - 1
	w := i / 64
	if w >= len(words) {
		w = len(words) - 1
		i = w*64 + 63
	}
	word := words[w] & (^uint64(0) >> (63 - uint(i%64)))
	for {
		if word != 0 {
			return w*64 + bits.Len64(word) - 1
		}
		w--
		if w < 0 {
			return -1
		}
		word = words[w]
	}
}

// Clone returns an independent copy.
func (f *Filter) Clone() *Filter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	c := &Filter{size: f.size, bits: f.bits.Clone()}
	c.weight.Store(-1)
	return c
}

// Equal reports whether both filters have the same size and bits.
func (f *Filter) Equal(other *Filter) bool {
	if other == f {
		return true
	}
	if other == nil || other.size != f.size {
		return false
	}
	return bytes.Equal(f.Bytes(), other.Bytes())
}
