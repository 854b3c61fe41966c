package ssebridge

import (
	"bytes"
	"encoding/json"
	"errors"
)

// ErrInvalidBody is returned by decodeBody when a client-submitted message
// body is not valid JSON.
var ErrInvalidBody = errors.New("message body is not valid JSON")

// Payload is the unit of application data carried over a channel. It mirrors
// the two JSON shapes a client may submit: null, or a string. Any other JSON
// value is carried as its compact text form.
//
// The zero value is the null payload.
type Payload struct {
	Text  string
	Valid bool // false means the payload is JSON null
}

// Text returns a non-null payload carrying s.
func Text(s string) Payload {
	return Payload{Text: s, Valid: true}
}

// Null is the null payload.
var Null = Payload{}

// MarshalJSON encodes the payload as a JSON string, or null.
func (p Payload) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(p.Text)
}

// UnmarshalJSON accepts null or a JSON string.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Null
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = Text(s)
	return nil
}

// decodeBody converts a raw POST body into a Payload.
//
// An empty body and a literal null both decode to the null payload. A JSON
// string literal decodes to that string. Any other valid JSON value is
// carried as its compact text form. A syntactically invalid body is an
// ErrInvalidBody, which the dispatcher maps to a 400 response.
func decodeBody(body []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Null, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return Text(s), nil
	}

	if !json.Valid(trimmed) {
		return Payload{}, ErrInvalidBody
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return Payload{}, ErrInvalidBody
	}
	return Text(buf.String()), nil
}
