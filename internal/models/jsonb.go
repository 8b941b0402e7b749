package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

//
// JSONB helpers for Postgres jsonb columns, usable with sqlx / database/sql.
//

// JSONB is backed by map[string]any for free-form metadata columns.
type JSONB map[string]any

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value any) error {
	return scanJSON(value, j, "JSONB")
}

// FloatMap maps string keys to float values (per-model budget maps).
type FloatMap map[string]float64

func (m FloatMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *FloatMap) Scan(value any) error {
	return scanJSON(value, m, "FloatMap")
}

// StringMap maps string keys to string values (alias tables).
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *StringMap) Scan(value any) error {
	return scanJSON(value, m, "StringMap")
}

func scanJSON(value, target any, name string) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("%s: expected []byte, got %T", name, value)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, target)
}
