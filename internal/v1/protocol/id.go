package protocol

import (
	"encoding/json"
	"fmt"
)

// ID is a request correlation id. The wire accepts both JSON strings and
// JSON numbers; ids minted by the broker are always strings. Numeric ids
// round-trip without losing their original form.
type ID struct {
	str   string
	num   json.Number
	isNum bool
}

// StringID wraps a string correlation id.
func StringID(s string) ID {
	return ID{str: s}
}

// NumberID wraps an integer correlation id.
func NumberID(n int64) ID {
	return ID{num: json.Number(fmt.Sprintf("%d", n)), isNum: true}
}

// String renders the id for logs and table keys.
func (id ID) String() string {
	if id.isNum {
		return id.num.String()
	}
	return id.str
}

// Equal reports whether two ids are the same wire value. A numeric 7 and
// the string "7" are distinct.
func (id ID) Equal(other ID) bool {
	return id.isNum == other.isNum && id.String() == other.String()
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isNum {
		return []byte(id.num.String()), nil
	}
	return json.Marshal(id.str)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty id", ErrSchemaInvalid)
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: malformed id: %v", ErrSchemaInvalid, err)
		}
		*id = ID{str: s}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: id must be a string or number", ErrSchemaInvalid)
	}
	*id = ID{num: n, isNum: true}
	return nil
}
