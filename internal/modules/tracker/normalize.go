package tracker

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/urfv/yandex-tracker-mcp/pkg/trackerapi"
)

// TimestampLayout is the ISO-8601 layout used for every timestamp in tool
// output. The offset of the source value is preserved.
const TimestampLayout = "2006-01-02T15:04:05.999999999-07:00"

// unrepresentable replaces values whose string conversion fails.
const unrepresentable = "<unrepresentable>"

// Reference is the canonical form of a linked entity (status, user, queue...).
type Reference struct {
	ID      *string `json:"id"`
	Key     *string `json:"key"`
	Display string  `json:"display"`
}

// maxDepth bounds the walk so self-referencing values terminate.
const maxDepth = 32

// Normalize converts a raw value from the tracker client into its canonical,
// JSON-safe form. It is total: every input yields a value and it never
// panics. Checks run in a fixed order and the first match wins.
func Normalize(v any) any {
	return normalize(v, 0)
}

func normalize(v any, depth int) any {
	if isNil(v) {
		return nil
	}

	switch v := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return v
	case Reference:
		return v
	case *Reference:
		return *v
	case time.Time:
		return v.Format(TimestampLayout)
	case *time.Time:
		return v.Format(TimestampLayout)
	}

	if depth > maxDepth {
		return unrepresentable
	}

	if m, ok := stringKeyed(v); ok {
		v = m
	}

	if ref, ok := referenceOf(v); ok {
		return ref
	}

	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = normalize(item, depth+1)
		}
		return out
	}

	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface(), depth+1)
		}
		return out
	case reflect.Pointer:
		if rv.Elem().Kind() != reflect.Struct {
			return normalize(rv.Elem().Interface(), depth+1)
		}
	}

	return stringify(v)
}

// stringKeyed views any map with string keys as map[string]any.
func stringKeyed(v any) (map[string]any, bool) {
	switch v := v.(type) {
	case map[string]any:
		return v, true
	case trackerapi.Object:
		return v, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	it := rv.MapRange()
	for it.Next() {
		out[it.Key().String()] = it.Value().Interface()
	}
	return out, true
}

// hasDisplayField reports whether v looks like a reference: an
// attribute-style value with a display attribute, or a mapping with a
// non-nil "display" key.
func hasDisplayField(v any) (any, bool) {
	switch v := v.(type) {
	case trackerapi.Object:
		d := v["display"]
		return d, !isNil(d)
	case map[string]any:
		d := v["display"]
		return d, !isNil(d)
	case trackerapi.Attributer:
		d, ok := safeAttr(v, "display")
		return d, ok && !isNil(d)
	}
	return nil, false
}

// referenceOf builds a Reference from anything that passes hasDisplayField.
// Missing id and key stay nil.
func referenceOf(v any) (Reference, bool) {
	display, ok := hasDisplayField(v)
	if !ok {
		return Reference{}, false
	}
	rec := recordOf(v)
	ref := Reference{
		ID:      optionalString(rec.value("id")),
		Key:     optionalString(rec.value("key")),
		Display: displayString(display),
	}
	return ref, true
}

func displayString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if s := optionalString(v); s != nil {
		return *s
	}
	return unrepresentable
}

// optionalString renders an identifier. Integral numbers become decimal
// strings.
func optionalString(v any) *string {
	if isNil(v) {
		return nil
	}
	var s string
	switch v := v.(type) {
	case string:
		s = v
	case int:
		s = strconv.Itoa(v)
	case int32:
		s = strconv.FormatInt(int64(v), 10)
	case int64:
		s = strconv.FormatInt(v, 10)
	case uint64:
		s = strconv.FormatUint(v, 10)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		s = v.String()
	case error, fmt.Stringer:
		s = stringify(v)
	default:
		switch reflect.ValueOf(v).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
			s = unrepresentable
		default:
			s = fmt.Sprint(v)
		}
	}
	return &s
}

// stringify is the last-resort conversion. A String or Error method that
// panics yields the placeholder.
func stringify(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = unrepresentable
		}
	}()
	switch v := v.(type) {
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}

// safeAttr reads an attribute, treating a panicking accessor as absent.
func safeAttr(a trackerapi.Attributer, name string) (v any, ok bool) {
	defer func() {
		if recover() != nil {
			v, ok = nil, false
		}
	}()
	return a.Attr(name)
}

// isNil reports untyped nil and typed nil pointers, maps, slices and funcs.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
