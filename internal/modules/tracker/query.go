package tracker

import (
	"context"
	"iter"
	"sort"
	"strings"

	"github.com/go-faster/errors"

	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

// BuildSearchParams translates caller input into a search request. Empty
// query, empty filter, empty ordering and non-positive paging are left out
// entirely, never sent as empty placeholders.
func BuildSearchParams(query string, perPage, page int, filter map[string]any, orderBy string, orderAsc bool) trackerapi.SearchRequest {
	req := trackerapi.SearchRequest{
		Query: strings.TrimSpace(query),
	}
	if perPage > 0 {
		req.PerPage = perPage
	}
	if page > 0 {
		req.Page = page
	}
	if len(filter) > 0 {
		req.Filter = filter
	}
	if field := strings.TrimLeft(strings.TrimSpace(orderBy), "+-"); field != "" {
		if orderAsc {
			req.Order = "+" + field
		} else {
			req.Order = "-" + field
		}
	}
	return req
}

// CollectEntities turns a raw result collection into an ordered slice.
// Lazy pages are materialized here, which is when the upstream fetch
// happens. Mapping collections yield their values in key order.
func CollectEntities(ctx context.Context, raw any) ([]any, error) {
	if isNil(raw) {
		return []any{}, nil
	}
	switch v := raw.(type) {
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out, nil
	case []trackerapi.Object:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	case trackerapi.Object:
		return mapValues(v), nil
	case map[string]any:
		return mapValues(v), nil
	case trackerapi.Materializer:
		items, err := v.Materialize(ctx)
		if err != nil {
			return nil, err
		}
		return CollectEntities(ctx, items)
	case iter.Seq[any]:
		return collectSeq(ctx, v)
	case func(yield func(any) bool):
		return collectSeq(ctx, v)
	}
	return nil, errors.Errorf("unsupported collection type %T", raw)
}

func collectSeq(ctx context.Context, seq iter.Seq[any]) ([]any, error) {
	out := make([]any, 0)
	for item := range seq {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func mapValues(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
