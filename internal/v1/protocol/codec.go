package protocol

import (
	"encoding/json"
	"fmt"
)

// RawJSON is an opaque JSON value the broker relays without inspecting.
type RawJSON = json.RawMessage

// Params is the ordered positional argument list of a method call.
type Params []json.RawMessage

// NewParams marshals the given values into a positional params list.
func NewParams(vs ...any) (Params, error) {
	ps := make(Params, 0, len(vs))
	for _, v := range vs {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal param: %w", err)
		}
		ps = append(ps, raw)
	}
	return ps, nil
}

// MustParams is NewParams for values known to marshal; it is used for the
// broker's own lifecycle payloads.
func MustParams(vs ...any) Params {
	ps, err := NewParams(vs...)
	if err != nil {
		panic(err)
	}
	return ps
}

// Decode parses and validates one wire frame.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// Encode serializes an envelope, stamping the protocol version when the
// caller left it unset.
func Encode(env *Envelope) ([]byte, error) {
	if env.Version == "" {
		stamped := *env
		stamped.Version = Version
		env = &stamped
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}
