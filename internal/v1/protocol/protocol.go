// Package protocol implements the broker's wire format: versioned JSON
// envelopes exchanged between connected peers and the broker.
//
// Every frame on a transport is exactly one envelope. The envelope kind
// discriminates which fields are meaningful:
//
//   - request:        id, method, params
//   - response:       id, response
//   - response-error: id, message
//   - notification:   method, params
//   - broadcast:      clientId, method, params
//   - error:          message
//
// The broker relays params and response values opaquely; it never
// interprets method payloads beyond the consent flow (peer/join) and the
// lifecycle envelopes it mints itself.
package protocol

import (
	"errors"
	"fmt"
)

// Version is the protocol revision stamped on every envelope. Envelopes
// carrying any other version are rejected at decode time.
const Version = "0.1.0"

// ErrSchemaInvalid reports an envelope that failed structural validation:
// wrong version, unknown kind, or a kind-required field missing.
var ErrSchemaInvalid = errors.New("schema invalid")

// Kind discriminates the envelope variants.
type Kind string

const (
	KindRequest       Kind = "request"
	KindResponse      Kind = "response"
	KindResponseError Kind = "response-error"
	KindNotification  Kind = "notification"
	KindBroadcast     Kind = "broadcast"
	KindError         Kind = "error"
)

func (k Kind) valid() bool {
	switch k {
	case KindRequest, KindResponse, KindResponseError, KindNotification, KindBroadcast, KindError:
		return true
	}
	return false
}

// Envelope is the single wire frame. Fields beyond Version and Kind are
// populated per kind; see the package comment for the layout.
type Envelope struct {
	Version  string  `json:"version"`
	Kind     Kind    `json:"kind"`
	ID       *ID     `json:"id,omitempty"`
	Method   string  `json:"method,omitempty"`
	Params   Params  `json:"params,omitempty"`
	Response RawJSON `json:"response,omitempty"`
	Message  string  `json:"message,omitempty"`
	ClientID string  `json:"clientId,omitempty"`
}

// Validate checks the structural rules for the envelope's kind. The
// clientId of an inbound broadcast is not required: the broker stamps it
// with the origin peer id before fan-out.
func (e *Envelope) Validate() error {
	if e.Version != Version {
		return fmt.Errorf("%w: unsupported version %q", ErrSchemaInvalid, e.Version)
	}
	if !e.Kind.valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrSchemaInvalid, e.Kind)
	}
	switch e.Kind {
	case KindRequest:
		if e.ID == nil {
			return fmt.Errorf("%w: request without id", ErrSchemaInvalid)
		}
		if e.Method == "" {
			return fmt.Errorf("%w: request without method", ErrSchemaInvalid)
		}
	case KindResponse:
		if e.ID == nil {
			return fmt.Errorf("%w: response without id", ErrSchemaInvalid)
		}
	case KindResponseError:
		if e.ID == nil {
			return fmt.Errorf("%w: response-error without id", ErrSchemaInvalid)
		}
		if e.Message == "" {
			return fmt.Errorf("%w: response-error without message", ErrSchemaInvalid)
		}
	case KindNotification:
		if e.Method == "" {
			return fmt.Errorf("%w: notification without method", ErrSchemaInvalid)
		}
	case KindBroadcast:
		if e.Method == "" {
			return fmt.Errorf("%w: broadcast without method", ErrSchemaInvalid)
		}
	case KindError:
		if e.Message == "" {
			return fmt.Errorf("%w: error without message", ErrSchemaInvalid)
		}
	}
	return nil
}

// NewRequest builds a request envelope. The id is chosen by the caller;
// the relay re-stamps it with a broker correlation id before forwarding.
func NewRequest(id ID, method string, params Params) *Envelope {
	return &Envelope{Version: Version, Kind: KindRequest, ID: &id, Method: method, Params: params}
}

// NewResponse builds a response envelope answering the given id.
func NewResponse(id ID, result RawJSON) *Envelope {
	return &Envelope{Version: Version, Kind: KindResponse, ID: &id, Response: result}
}

// NewResponseError builds a response-error envelope answering the given id.
func NewResponseError(id ID, message string) *Envelope {
	return &Envelope{Version: Version, Kind: KindResponseError, ID: &id, Message: message}
}

// NewNotification builds a fire-and-forget notification envelope.
func NewNotification(method string, params Params) *Envelope {
	return &Envelope{Version: Version, Kind: KindNotification, Method: method, Params: params}
}

// NewBroadcast builds a broadcast envelope. ClientID is left for the relay
// to stamp with the origin peer.
func NewBroadcast(method string, params Params) *Envelope {
	return &Envelope{Version: Version, Kind: KindBroadcast, Method: method, Params: params}
}

// NewError builds a transport-level error envelope.
func NewError(message string) *Envelope {
	return &Envelope{Version: Version, Kind: KindError, Message: message}
}
