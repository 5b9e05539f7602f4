package dbtypes

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray stores an ordered list of strings as a JSON document so it
// round-trips identically through Postgres jsonb and the SQLite text columns
// used in tests.
type StringArray []string

func (a *StringArray) Scan(src any) error {
	if src == nil {
		*a = StringArray{}
		return nil
	}

	switch v := src.(type) {
	case string:
		return a.parseFromJSON([]byte(v))
	case []byte:
		return a.parseFromJSON(v)
	default:
		return fmt.Errorf("StringArray: unsupported Scan type %T", src)
	}
}

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(a))
	if err != nil {
		return nil, fmt.Errorf("StringArray: marshal: %w", err)
	}
	return string(raw), nil
}

func (a *StringArray) parseFromJSON(raw []byte) error {
	if len(raw) == 0 {
		*a = StringArray{}
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("StringArray: parse %q: %w", string(raw), err)
	}
	if out == nil {
		out = []string{}
	}
	*a = StringArray(out)
	return nil
}
