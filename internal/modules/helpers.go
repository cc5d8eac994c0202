package modules

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ToJSON marshals any value to a JSON string.
// Used by module handlers to serialize canonical records.
func ToJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshal response")
	}
	return string(b), nil
}

// ErrorJSON renders {"error": msg}.
func ErrorJSON(msg string) string {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("error")
	e.Str(msg)
	e.ObjEnd()
	return string(e.Bytes())
}

// IsErrorRecord reports whether s is a JSON object whose only key is "error".
func IsErrorRecord(s string) bool {
	d := jx.DecodeStr(s)
	if d.Next() != jx.Object {
		return false
	}
	keys := 0
	hasError := false
	err := d.Obj(func(d *jx.Decoder, key string) error {
		keys++
		if key == "error" {
			hasError = true
		}
		return d.Skip()
	})
	return err == nil && hasError && keys == 1
}

// ErrorMessage extracts the message of an error record, or "".
func ErrorMessage(s string) string {
	if !IsErrorRecord(s) {
		return ""
	}
	var msg string
	_ = jx.DecodeStr(s).Obj(func(d *jx.Decoder, key string) error {
		if d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		msg = v
		return err
	})
	return msg
}
