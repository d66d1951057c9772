package proto

import (
	"bytes"
	"encoding/json"
	"errors"
)

const (
	TypePing = "ping"

	FieldType    = "type"
	FieldHeaders = "headers"
	FieldBody    = "body"

	// Legacy top-level routing fields.
	HeaderOperationType = "Header-Operation-Type"
	HeaderKioskID       = "Header-Kiosk-Id"

	// Keys inside the nested "headers" object.
	nestedOperationType = "header-operation-type"
	nestedKioskID       = "header-kiosk-id"
)

var ErrNotObject = errors.New("message must be a JSON object")

// Inbound is a decoded frame from the server.
type Inbound struct {
	Type string
	// Headers holds the string values of the nested "headers" object.
	Headers map[string]string
	// Legacy holds string-valued top-level routing fields.
	Legacy map[string]string
	// Body is the raw "body" field; HasBody is true when the key is present,
	// even if its value is null.
	Body    json.RawMessage
	HasBody bool
	Fields  map[string]json.RawMessage
}

func ParseInbound(raw []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		var ute *json.UnmarshalTypeError
		if errors.As(err, &ute) {
			return nil, ErrNotObject
		}
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotObject
	}

	in := &Inbound{Fields: fields, Legacy: map[string]string{}}
	if t, ok := fields[FieldType]; ok {
		_ = json.Unmarshal(t, &in.Type)
	}
	if h, ok := fields[FieldHeaders]; ok {
		var m map[string]json.RawMessage
		if json.Unmarshal(h, &m) == nil {
			in.Headers = stringValues(m)
		}
	}
	for _, k := range []string{HeaderOperationType, HeaderKioskID} {
		if v, ok := fields[k]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil {
				in.Legacy[k] = s
			}
		}
	}
	in.Body, in.HasBody = fields[FieldBody]
	return in, nil
}

func stringValues(m map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		var s string
		if json.Unmarshal(v, &s) == nil {
			out[k] = s
		}
	}
	return out
}

func (in *Inbound) IsPing() bool { return in.Type == TypePing }

// OperationType prefers the nested header over the legacy top-level field.
func (in *Inbound) OperationType() string {
	return in.header(nestedOperationType, HeaderOperationType)
}

func (in *Inbound) KioskID() string {
	return in.header(nestedKioskID, HeaderKioskID)
}

func (in *Inbound) header(nested, top string) string {
	if v := in.Headers[nested]; v != "" {
		return v
	}
	return in.Legacy[top]
}

var strippedFields = []string{HeaderKioskID, HeaderOperationType, FieldHeaders}

// Payload is what gets forwarded to the gateway: the body if present,
// otherwise the whole message. When the payload is an object, routing fields
// are removed from its top level; otherwise it is returned untouched.
func (in *Inbound) Payload() (json.RawMessage, error) {
	if in.HasBody {
		trimmed := bytes.TrimSpace(in.Body)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return in.Body, nil
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		if !hasAny(obj, strippedFields) {
			return in.Body, nil
		}
		return stripAndEncode(obj)
	}
	obj := make(map[string]json.RawMessage, len(in.Fields))
	for k, v := range in.Fields {
		obj[k] = v
	}
	return stripAndEncode(obj)
}

func hasAny(obj map[string]json.RawMessage, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func stripAndEncode(obj map[string]json.RawMessage) (json.RawMessage, error) {
	for _, k := range strippedFields {
		delete(obj, k)
	}
	return json.Marshal(obj)
}
