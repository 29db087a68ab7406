// Package catalog resolves candidate intervention content for a metric bucket.
package catalog

import (
	"context"
	"fmt"
	"sort"

	"github.com/meigsy/shift-sub001/internal/domain/model"
)

// Reader reads catalog entries for one (metric, level) bucket.
type Reader interface {
	CatalogEntries(ctx context.Context, metric string, level model.Level) ([]model.CatalogEntry, error)
}

// Lookup is a pure read over the catalog; it never ranks.
type Lookup struct {
	reader Reader
}

// NewLookup creates a Lookup over reader.
func NewLookup(reader Reader) *Lookup {
	return &Lookup{reader: reader}
}

// GetCandidates returns the enabled entries of the bucket in key order.
// An empty result is a valid "nothing to offer" outcome, not an error.
func (l *Lookup) GetCandidates(ctx context.Context, metric string, level model.Level) ([]model.CatalogEntry, error) {
	entries, err := l.reader.CatalogEntries(ctx, metric, level)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s/%s: %w", metric, level, err)
	}
	out := make([]model.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Enabled || e.Metric != metric || e.Level != level {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
