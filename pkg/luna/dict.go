package luna

import (
	"encoding/json"
	"errors"
	"math"
)

// Dict is a decoded JSON object payload
type Dict map[string]any

var ErrNotObject = errors.New("luna: payload is not a JSON object")

func Parse(payload string) (Dict, error) {
	if payload == "" {
		return nil, ErrNotObject
	}

	var v any
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, err
	}

	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}

	return m, nil
}

func (d Dict) Marshal() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Int returns value only if it is a number without fractional part
func (d Dict) Int(key string) (int, bool) {
	f, ok := d[key].(float64)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		// also accept values set from Go code before marshaling
		if i, ok := d[key].(int); ok {
			return i, true
		}
		return 0, false
	}
	return int(f), true
}

func (d Dict) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (d Dict) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

func (d Dict) Bool(key string) (bool, bool) {
	b, ok := d[key].(bool)
	return b, ok
}

func (d Dict) Dict(key string) (Dict, bool) {
	switch v := d[key].(type) {
	case map[string]any:
		return v, true
	case Dict:
		return v, true
	}
	return nil, false
}

func (d Dict) List(key string) ([]any, bool) {
	l, ok := d[key].([]any)
	return l, ok
}

// Strings returns all string items of the list, other items are skipped
func (d Dict) Strings(key string) []string {
	l, _ := d.List(key)

	var items []string
	for _, item := range l {
		if s, ok := item.(string); ok {
			items = append(items, s)
		}
	}
	return items
}
