package model

import (
	"database/sql/driver"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
)

// Violations is stored as a JSON array column.
type Violations []Violation

// Top returns up to n critical/serious violations, critical first.
func (v Violations) Top(n int) Violations {
	var out Violations
	for _, impact := range []string{"critical", "serious"} {
		for _, vi := range v {
			if vi.Impact == impact {
				out = append(out, vi)
			}
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func (v Violations) Value() (driver.Value, error) {
	return marshalColumn(v, "[]")
}

func (v *Violations) Scan(src any) error {
	return scanColumn(src, v)
}

// StringList is stored as a JSON array of strings.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return marshalColumn(l, "[]")
}

func (l *StringList) Scan(src any) error {
	return scanColumn(src, l)
}

// Metadata is stored as a JSON object column.
type Metadata map[string]any

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m Metadata) Value() (driver.Value, error) {
	return marshalColumn(m, "{}")
}

func (m *Metadata) Scan(src any) error {
	return scanColumn(src, m)
}

// marshalColumn encodes v as a JSON string. Nil slices and maps encode as empty.
func marshalColumn(v any, empty string) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal json column")
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func scanColumn(src any, dst any) error {
	var b []byte
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		b = s
	case string:
		b = []byte(s)
	default:
		return eris.Errorf("model: cannot scan %T into json column", src)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return eris.Wrap(err, "model: unmarshal json column")
	}
	return nil
}
