package bloom

import (
	"encoding/hex"
	"strings"
)

// String is the upper-case hex dump of the byte layout.
func (f *Filter) String() string {
	return strings.ToUpper(hex.EncodeToString(f.Bytes()))
}

// Binary renders the byte layout as bits, one space-separated group per byte.
func (f *Filter) Binary() string {
	data := f.Bytes()
	var sb strings.Builder
	sb.Grow(len(data) * 9)
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				sb.WriteByte('1')
			} else {
				sb.WriteByte('0')
			}
		}
	}
	return sb.String()
}
