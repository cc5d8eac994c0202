package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

func TestBuildSearchParams(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		perPage  int
		page     int
		filter   map[string]any
		orderBy  string
		orderAsc bool
		want     trackerapi.SearchRequest
	}{
		{
			name: "nothing supplied",
			want: trackerapi.SearchRequest{},
		},
		{
			name:    "query and paging",
			query:   "Queue: TEST",
			perPage: 50,
			page:    2,
			want:    trackerapi.SearchRequest{Query: "Queue: TEST", PerPage: 50, Page: 2},
		},
		{
			name:   "empty filter is omitted",
			filter: map[string]any{},
			want:   trackerapi.SearchRequest{},
		},
		{
			name:    "filter with descending order",
			filter:  map[string]any{"queue": "TEST"},
			orderBy: "updatedAt",
			want:    trackerapi.SearchRequest{Filter: map[string]any{"queue": "TEST"}, Order: "-updatedAt"},
		},
		{
			name:     "ascending order strips caller sign",
			orderBy:  "-createdAt",
			orderAsc: true,
			want:     trackerapi.SearchRequest{Order: "+createdAt"},
		},
		{
			name:    "blank query and negative paging",
			query:   "   ",
			perPage: -1,
			page:    0,
			want:    trackerapi.SearchRequest{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildSearchParams(tt.query, tt.perPage, tt.page, tt.filter, tt.orderBy, tt.orderAsc)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSearchParams_WireShape(t *testing.T) {
	req := BuildSearchParams("", 0, 0, nil, "", false)
	v, err := req.Values()
	require.NoError(t, err)
	assert.Empty(t, v.Encode())
	assert.JSONEq(t, `{}`, string(req.Body()))

	req = BuildSearchParams("Status: Open", 10, 1, nil, "key", true)
	v, err = req.Values()
	require.NoError(t, err)
	assert.Equal(t, "page=1&perPage=10", v.Encode())
	assert.JSONEq(t, `{"query":"Status: Open","order":"+key"}`, string(req.Body()))
}

// countingPage is a lazy collection that counts how often it is fetched.
type countingPage struct {
	items []any
	err   error
	calls int
}

func (p *countingPage) Materialize(context.Context) ([]any, error) {
	p.calls++
	return p.items, p.err
}

func TestCollectEntities(t *testing.T) {
	a := trackerapi.Object{"key": "A-1"}
	b := trackerapi.Object{"key": "B-1"}
	c := trackerapi.Object{"key": "C-1"}

	tests := []struct {
		name string
		raw  any
		want []any
	}{
		{"nil", nil, []any{}},
		{"typed nil page", (*trackerapi.Page)(nil), []any{}},
		{"typed nil materializer", (*countingPage)(nil), []any{}},
		{"list", []any{a, b}, []any{a, b}},
		{"typed list", []trackerapi.Object{a, b}, []any{a, b}},
		{"map list", []map[string]any{{"key": "A-1"}}, []any{map[string]any{"key": "A-1"}}},
		{"mapping in key order", map[string]any{"3": c, "1": a, "2": b}, []any{a, b, c}},
		{"lazy page", &countingPage{items: []any{a, c}}, []any{a, c}},
		{"sequence", func(yield func(any) bool) {
			for _, v := range []any{c, b, a} {
				if !yield(v) {
					return
				}
			}
		}, []any{c, b, a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CollectEntities(context.Background(), tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCollectEntities_LazyPageFetchedOnce(t *testing.T) {
	page := &countingPage{items: []any{trackerapi.Object{"key": "A-1"}}}
	assert.Equal(t, 0, page.calls)

	items, err := CollectEntities(context.Background(), page)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.calls)
}

func TestCollectEntities_Errors(t *testing.T) {
	boom := errors.New("upstream down")
	_, err := CollectEntities(context.Background(), &countingPage{err: boom})
	assert.ErrorIs(t, err, boom)

	_, err = CollectEntities(context.Background(), 42)
	assert.ErrorContains(t, err, "unsupported collection type int")
}

func TestCollectEntities_CancelledSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	seq := func(yield func(any) bool) {
		yield("a")
	}
	_, err := CollectEntities(ctx, seq)
	assert.ErrorIs(t, err, context.Canceled)
}
