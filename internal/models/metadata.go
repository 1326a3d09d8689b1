package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a jsonb column holding arbitrary keys. The core owns a small
// set of reserved keys (run metadata: "jobId", "batch"); everything else is
// opaque pass-through for the admin surface.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for jsonb columns.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for jsonb columns.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(data) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Merge returns a copy of m with the entries of other applied on top.
func (m JSONMap) Merge(other JSONMap) JSONMap {
	out := make(JSONMap, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String extracts a string value, returning "" when absent or mistyped.
func (m JSONMap) String(key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// Int extracts an integer value, tolerating the float64 produced by
// encoding/json round-trips.
func (m JSONMap) Int(key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Bool extracts a boolean value, returning false when absent.
func (m JSONMap) Bool(key string) bool {
	v, _ := m[key].(bool)
	return v
}
