package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TermOptions is the set of loan durations (in months) an offer accepts.
// Stored as a JSON array in a text column so the set survives both the
// postgres and sqlite drivers unchanged.
type TermOptions []int

// Value implements driver.Valuer.
func (t TermOptions) Value() (driver.Value, error) {
	b, err := json.Marshal([]int(t))
	if err != nil {
		return nil, fmt.Errorf("failed to encode term options: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *TermOptions) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*t = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]int)(t))
	case string:
		return json.Unmarshal([]byte(v), (*[]int)(t))
	default:
		return fmt.Errorf("unsupported term options source type %T", src)
	}
}
