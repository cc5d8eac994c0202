package trackerapi

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Timestamp layouts used by the Tracker API.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// timestampFields lists the fields that carry date-times. Other strings are
// kept verbatim even when they look like a timestamp.
var timestampFields = map[string]bool{
	"createdAt":            true,
	"updatedAt":            true,
	"resolvedAt":           true,
	"statusStartTime":      true,
	"lastCommentUpdatedAt": true,
	"start":                true,
	"end":                  true,
}

// parseTimestamp recognises full date-time strings. Plain dates such as
// project start dates stay strings.
func parseTimestamp(s string) (time.Time, bool) {
	if len(s) < 20 || len(s) > 35 || s[4] != '-' || s[10] != 'T' {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeEntity decodes a top-level entity. It is always an Object, even when
// it carries a display label.
func decodeEntity(data []byte) (Object, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errors.Errorf("expected object, got %s", d.Next())
	}
	obj, err := decodeObject(d)
	if err != nil {
		return nil, errors.Wrap(err, "decode entity")
	}
	return obj, nil
}

// decodeList decodes a JSON array of entities.
func decodeList(data []byte) ([]any, error) {
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Array {
		return nil, errors.Errorf("expected array, got %s", d.Next())
	}
	items := make([]any, 0)
	err := d.Arr(func(d *jx.Decoder) error {
		if d.Next() != jx.Object {
			v, err := decodeValue(d, "")
			if err != nil {
				return err
			}
			items = append(items, v)
			return nil
		}
		obj, err := decodeObject(d)
		if err != nil {
			return err
		}
		items = append(items, obj)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode list")
	}
	return items, nil
}

// decodeComments decodes a comment list. Entries with the regular comment
// shape become *Comment, the rest (system comments, partial payloads) stay
// Object.
func decodeComments(data []byte) ([]any, error) {
	items, err := decodeList(data)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		obj, ok := item.(Object)
		if !ok {
			continue
		}
		if c, ok := commentFromObject(obj); ok {
			items[i] = c
		}
	}
	return items, nil
}

func commentFromObject(obj Object) (*Comment, bool) {
	id, ok := obj["id"].(int64)
	if !ok {
		return nil, false
	}
	text, ok := obj["text"].(string)
	if !ok {
		return nil, false
	}
	created, ok := obj["createdAt"].(time.Time)
	if !ok {
		return nil, false
	}
	c := &Comment{
		ID:        id,
		Text:      text,
		CreatedAt: created,
		CreatedBy: obj["createdBy"],
		UpdatedBy: obj["updatedBy"],
	}
	if longID, ok := obj["longId"].(string); ok {
		c.LongID = longID
	}
	if updated, ok := obj["updatedAt"].(time.Time); ok {
		c.UpdatedAt = &updated
	}
	if version, ok := obj["version"].(int64); ok {
		c.Version = &version
	}
	return c, true
}

func decodeObject(d *jx.Decoder) (Object, error) {
	obj := Object{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := decodeValue(d, key)
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		obj[key] = v
		return nil
	})
	return obj, err
}

// decodeValue reads one JSON value into the raw value model: nested objects
// with a display label become *Ref, timestamps in date-time fields become
// time.Time. Array elements inherit the key of the array.
func decodeValue(d *jx.Decoder, key string) (any, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Bool:
		return d.Bool()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		if n.IsInt() {
			if v, err := n.Int64(); err == nil {
				return v, nil
			}
		}
		return n.Float64()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		if !timestampFields[key] {
			return s, nil
		}
		if t, ok := parseTimestamp(s); ok {
			return t, nil
		}
		return s, nil
	case jx.Array:
		items := make([]any, 0)
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := decodeValue(d, key)
			if err != nil {
				return err
			}
			items = append(items, v)
			return nil
		})
		return items, err
	case jx.Object:
		obj, err := decodeObject(d)
		if err != nil {
			return nil, err
		}
		if ref, ok := refFromObject(obj); ok {
			return ref, nil
		}
		return obj, nil
	default:
		return nil, errors.Errorf("unexpected json type %s", d.Next())
	}
}

func refFromObject(obj Object) (*Ref, bool) {
	display, ok := obj["display"].(string)
	if !ok {
		return nil, false
	}
	ref := &Ref{Display: display}
	ref.Self, _ = obj["self"].(string)
	ref.Key, _ = obj["key"].(string)
	switch id := obj["id"].(type) {
	case string:
		ref.ID = id
	case int64:
		ref.ID = formatID(id)
	case float64:
		ref.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	return ref, true
}

// encodeFields encodes a request payload.
func encodeFields(fields map[string]any) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	writeValue(e, fields)
	return append([]byte(nil), e.Bytes()...)
}

func writeValue(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(v)
	case bool:
		e.Bool(v)
	case int:
		e.Int(v)
	case int64:
		e.Int64(v)
	case float64:
		e.Float64(v)
	case []string:
		e.ArrStart()
		for _, s := range v {
			e.Str(s)
		}
		e.ArrEnd()
	case []any:
		e.ArrStart()
		for _, item := range v {
			writeValue(e, item)
		}
		e.ArrEnd()
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.ObjStart()
		for _, k := range keys {
			e.FieldStart(k)
			writeValue(e, v[k])
		}
		e.ObjEnd()
	case Object:
		writeValue(e, map[string]any(v))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			e.Null()
			return
		}
		e.Raw(b)
	}
}
