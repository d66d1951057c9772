package proto

import (
	"encoding/json"
	"fmt"
)

// ErrorKind is the value of the "error" field in an error envelope.
type ErrorKind string

const (
	KindInvalidJSON       ErrorKind = "invalid_json"
	KindMissingHeader     ErrorKind = "missing_header"
	KindRouteNotFound     ErrorKind = "route_not_found"
	KindTimeout           ErrorKind = "timeout"
	KindConnectionRefused ErrorKind = "connection_refused"
	KindHTTPError         ErrorKind = "http_error"
	KindOther             ErrorKind = "other"
)

const statusError = "error"

type ErrorEnvelope struct {
	Status  string    `json:"status"`
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// Outbound is the frame sent back to the server. Exactly one of Response,
// Pong or Err is set.
type Outbound struct {
	Response json.RawMessage
	Pong     bool
	Err      *ErrorEnvelope
}

// Reply wraps a gateway response that is passed through unchanged.
func Reply(raw json.RawMessage) Outbound { return Outbound{Response: raw} }

func Pong() Outbound { return Outbound{Pong: true} }

func Fail(kind ErrorKind, format string, v ...any) Outbound {
	return Outbound{Err: &ErrorEnvelope{Status: statusError, Error: kind, Message: fmt.Sprintf(format, v...)}}
}

func (o Outbound) IsError() bool { return o.Err != nil }

// Kind is the error kind, or "ok" for successful replies and pongs.
func (o Outbound) Kind() string {
	if o.Err != nil {
		return string(o.Err.Error)
	}
	return "ok"
}

func (o Outbound) MarshalJSON() ([]byte, error) {
	switch {
	case o.Err != nil:
		return json.Marshal(o.Err)
	case o.Pong:
		return []byte(`{"type":"pong"}`), nil
	case len(o.Response) > 0:
		return o.Response, nil
	}
	return []byte("null"), nil
}
