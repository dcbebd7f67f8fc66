package contract

import (
	"bytes"
	"encoding/json"
	"math"
)

// fields is a decoded JSON object awaiting type checks.
type fields map[string]json.RawMessage

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// present reports whether name exists with a non-null value.
func (f fields) present(name string) bool {
	raw, ok := f[name]
	return ok && !isNull(raw)
}

func (f fields) requiredRaw(prefix, name string) (json.RawMessage, error) {
	raw, ok := f[name]
	if !ok {
		return nil, fieldErr(prefix+name, "is missing")
	}
	if isNull(raw) {
		return nil, fieldErr(prefix+name, "is null")
	}
	return raw, nil
}

func (f fields) requiredString(prefix, name string) (string, error) {
	raw, err := f.requiredRaw(prefix, name)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fieldErr(prefix+name, "must be a string")
	}
	return s, nil
}

// requiredNumber accepts integer and float representations, never strings.
func (f fields) requiredNumber(prefix, name string) (float64, error) {
	raw, err := f.requiredRaw(prefix, name)
	if err != nil {
		return 0, err
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fieldErr(prefix+name, "must be a number")
	}
	return n, nil
}

// requiredBool accepts only JSON true/false.
func (f fields) requiredBool(prefix, name string) (bool, error) {
	raw, err := f.requiredRaw(prefix, name)
	if err != nil {
		return false, err
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, fieldErr(prefix+name, "must be a boolean")
	}
	return b, nil
}

func (f fields) optionalString(prefix, name string) (*string, error) {
	if !f.present(name) {
		return nil, nil
	}
	s, err := f.requiredString(prefix, name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (f fields) optionalInt(prefix, name string) (*int, error) {
	if !f.present(name) {
		return nil, nil
	}
	n, err := f.requiredNumber(prefix, name)
	if err != nil {
		return nil, err
	}
	if n != math.Trunc(n) || n < 0 || n > math.MaxInt32 {
		return nil, fieldErr(prefix+name, "must be a non-negative integer")
	}
	v := int(n)
	return &v, nil
}

func (f fields) optionalStrings(prefix, name string) ([]string, error) {
	if !f.present(name) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(f[name], &items); err != nil {
		return nil, fieldErr(prefix+name, "must be a list of strings")
	}
	// An empty list reads as absent so it survives omitempty round trips.
	if len(items) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if isNull(item) || json.Unmarshal(item, &s) != nil {
			return nil, fieldErr(prefix+name, "must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func (f fields) optionalObject(prefix, name string) (fields, error) {
	if !f.present(name) {
		return nil, nil
	}
	var obj fields
	if err := json.Unmarshal(f[name], &obj); err != nil || obj == nil {
		return nil, fieldErr(prefix+name, "must be an object")
	}
	return obj, nil
}
