package index

import (
	"testing"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = func() bloom.Config {
	cfg, err := bloom.NewConfig(3, 100000)
	if err != nil {
		panic(err)
	}
	return cfg
}()

func filterFor(t *testing.T, terms ...rdf.Term) *bloom.Filter {
	encoded := make([]*encoding.Term, len(terms))
	for i, term := range terms {
		e, err := encoding.EncodeTerm(term, encoding.NoCompression)
		require.NoError(t, err)
		encoded[i] = e
	}
	f, err := bloom.Build(testConfig, bloom.Indexable, encoded...)
	require.NoError(t, err)
	return f
}

// countingEntry records how often its filter was consulted
type countingEntry struct {
	*Index
	calls *int
}

func (c countingEntry) Filter() *bloom.Filter {
	*c.calls++
	return c.Index.Filter()
}

func TestIndexDelete(t *testing.T) {
	idx := New(3, filterFor(t, rdf.NewNamedNode("http://e/s")))
	assert.Equal(t, 3, idx.ID())
	assert.False(t, idx.Deleted())

	idx.Delete()
	assert.True(t, idx.Deleted())
	assert.True(t, idx.Filter().IsEmpty())
	assert.Equal(t, 3, idx.ID())
}

func TestMatchingSkipsDeletedAndMisses(t *testing.T) {
	s1 := rdf.NewNamedNode("http://example.text/s1")
	s2 := rdf.NewNamedNode("http://example.text/s2")
	p1 := rdf.NewNamedNode("http://example.text/p1")

	var list List[*Index]
	list.Append(New(0, filterFor(t, s1, p1)))
	list.Append(New(1, filterFor(t, s2, p1)))
	list.Append(New(2, filterFor(t, s2)))
	list.Append(New(3, filterFor(t, s1)))
	assert.Equal(t, 4, list.Len())

	ids := func(entries []*Index) []int {
		var out []int
		for _, e := range entries {
			out = append(out, e.ID())
		}
		return out
	}

	assert.Equal(t, []int{1, 2}, ids(list.Matching(filterFor(t, s2)).Collect()))
	assert.Equal(t, []int{0, 3}, ids(list.Matching(filterFor(t, s1)).Collect()))
	assert.Equal(t, []int{0, 1, 2, 3}, ids(list.Matching(nil).Collect()))

	e, ok := list.At(1)
	require.True(t, ok)
	e.Delete()
	assert.Equal(t, []int{2}, ids(list.Matching(filterFor(t, s2)).Collect()))

	last, ok := list.Last()
	require.True(t, ok)
	assert.Equal(t, 3, last.ID())

	_, ok = list.At(4)
	assert.False(t, ok)
}

func TestIteratorIsLazy(t *testing.T) {
	s := rdf.NewNamedNode("http://e/s")
	calls := 0

	var list List[countingEntry]
	for i := 0; i < 10; i++ {
		list.Append(countingEntry{Index: New(i, filterFor(t, s)), calls: &calls})
	}

	it := list.Matching(filterFor(t, s))
	require.True(t, it.Next())
	assert.Equal(t, 0, it.Entry().ID())
	assert.Equal(t, 1, calls, "only the first entry should be tested")

	require.True(t, it.Next())
	assert.Equal(t, 2, calls)
}

func TestIteratorSeesAppends(t *testing.T) {
	var list List[*Index]
	list.Append(New(0, filterFor(t, rdf.NewLiteral("a"))))

	it := list.Matching(nil)
	require.True(t, it.Next())
	list.Append(New(1, filterFor(t, rdf.NewLiteral("b"))))
	require.True(t, it.Next())
	assert.Equal(t, 1, it.Entry().ID())
	assert.False(t, it.Next())
	assert.False(t, it.Next())
}
