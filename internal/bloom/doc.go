package bloom

/*

# Bloom filters for triple and page indexes

Every stored triple carries a small filter built from its indexable terms, and
every page carries a large filter that is the OR of the page-sized filters of
all triples written to it. A search builds the same two filters from the
pattern and walks pages, then records, keeping only those whose filter
contains every bit of the pattern's filter.

A filter is a necessary test, not a sufficient one:

- If Match returns false, the candidate cannot hold the pattern's terms.
- If Match returns true, the candidate may hold them; callers still compare
  terms exactly.

## Sizing

Config derives the bit count m and hash count k from an expected item count
n and a false-positive denominator p (one false positive in p lookups):

	m = ceil(n * ln(p) / ln(2)^2)
	k = round(ln(2) * m / n)

A triple filter indexes at most three terms: Config(3, 100000) gives 72 bits
(9 bytes) and 17 hash rounds. Sizes beyond the int32 range are rejected with
ErrConfigOverflow rather than truncated.

## Bit derivation

Each indexable term is hashed once with xxh3 (128 bit) over its uncompressed
encoding. The two halves drive double hashing:

	bit_i = (h1 + i*h2) mod m,   i = 0..k-1,   h2 = 1 when the hash gives 0

Wildcards and blank nodes contribute no bits.

## Byte layout

Bytes returns ceil(m/8) bytes. Bit j lives in byte j/8 at mask 0x80 >> (j%8),
i.e. the first bit of each byte is its most significant bit.

## Ordering keys

Weight (population count) and ApproximateLog are both monotone under the
subset relation, so a store can prune with "weight >= w AND log >= l" before
evaluating Match.

*/
