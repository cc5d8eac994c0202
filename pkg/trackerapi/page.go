package trackerapi

import (
	"context"
	"sync"
)

// Page is a lazily fetched result page. Nothing is requested until the first
// Materialize call; later calls return the same result.
type Page struct {
	once  sync.Once
	fetch func(ctx context.Context) ([]any, error)
	items []any
	err   error
}

func newPage(fetch func(ctx context.Context) ([]any, error)) *Page {
	return &Page{fetch: fetch}
}

// Materialize implements Materializer.
func (p *Page) Materialize(ctx context.Context) ([]any, error) {
	p.once.Do(func() {
		p.items, p.err = p.fetch(ctx)
	})
	return p.items, p.err
}
