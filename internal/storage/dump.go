package storage

import (
	"fmt"
	"io"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// DumpPage writes page n of b in a human readable form: statistics, the
// aggregate filter and every live record with its filter.
func DumpPage(b Backend, n int, w io.Writer) error {
	p, err := b.Page(n)
	if err != nil {
		return err
	}
	filter, err := b.PageFilter(n)
	if err != nil {
		return err
	}
	stats, err := p.Statistics()
	if err != nil {
		return err
	}

	settings := b.Settings()
	fmt.Fprintf(w, "page %d: records=%d deleted=%d bytes=%d density=%.3f\n",
		n, stats.RecordCount, stats.DeleteCount, stats.DataSize, stats.Density())
	fmt.Fprintf(w, "filter: bits=%d weight=%d log=%.6f\n",
		filter.Size(), filter.Weight(), filter.ApproximateLog(settings.InsertLogDepth))

	it, err := p.Find(settings.NewItem(rdf.NewPattern(nil, nil, nil)))
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		rec := it.Record()
		f, err := bloom.ForTriple(settings.TripleFilter, rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%6d %s %s\n", rec.Index(), f.String(), rec.String())
	}
	return it.Err()
}
