package downloader

import (
	"fmt"
	"sort"

	"github.com/cwygoda/snapkeeper/internal/domain"
)

// Table maps content types to downloaders.
type Table struct {
	downloaders map[domain.ContentType]domain.Downloader
}

// NewTable creates a table holding ds.
func NewTable(ds ...domain.Downloader) *Table {
	t := &Table{downloaders: make(map[domain.ContentType]domain.Downloader)}
	for _, d := range ds {
		t.Register(d)
	}
	return t
}

// Register adds d, replacing any downloader for the same type.
func (t *Table) Register(d domain.Downloader) {
	t.downloaders[d.Type()] = d
}

// Get returns the downloader for ct.
func (t *Table) Get(ct domain.ContentType) (domain.Downloader, error) {
	d, ok := t.downloaders[ct]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownContentType, ct)
	}
	return d, nil
}

// Types returns the registered content types in order.
func (t *Table) Types() []domain.ContentType {
	types := make([]domain.ContentType, 0, len(t.downloaders))
	for ct := range t.downloaders {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
