// Package wire implements the line-delimited subscription message format
// carried on SUBSCRIBE response bodies, along with the header and error
// types shared by every subscription layer.
//
// Each line is a JSON array whose first element is an integer tag:
//
//	[0, "body"]                              Control
//	[1, "<event id>", {headers}, <body>]     Event
//	[255, <status>, {headers}, {error}]      EndOfStream
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message tags.
const (
	TagControl     = 0
	TagEvent       = 1
	TagEndOfStream = 255
)

// Message is one decoded subscription message: a Control, an Event or an
// EndOfStream.
type Message interface {
	isMessage()
}

// Control messages carry transport-level chatter and are ignored by every
// subscription layer.
type Control struct {
	Body string
}

// Event is an application payload. ID is the resumption cursor.
type Event struct {
	ID      string
	Headers Headers
	Body    any
}

// EOSError is the structured error carried by an EndOfStream message.
type EOSError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// EndOfStream is the terminal marker of a subscription.
type EndOfStream struct {
	StatusCode int
	Headers    Headers
	Error      EOSError
}

func (Control) isMessage()     {}
func (Event) isMessage()       {}
func (EndOfStream) isMessage() {}

// BodyParser decodes the raw JSON body of an Event. The event id is passed so
// callers can select a body type per event.
type BodyParser func(eventID string, raw json.RawMessage) (any, error)

// RawBody is the default BodyParser; it keeps the body as json.RawMessage.
func RawBody(_ string, raw json.RawMessage) (any, error) {
	return raw, nil
}

// JSONBody returns a BodyParser that unmarshals every event body into a T.
func JSONBody[T any]() BodyParser {
	return func(_ string, raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Decode parses one line into a Message. A nil parser behaves like RawBody.
//
// Required fields are validated independently; when one or more are missing
// the error is a *CompositeError holding one error per failed field.
func Decode(line string, parse BodyParser) (Message, error) {
	if parse == nil {
		parse = RawBody
	}

	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(line), &elems); err != nil {
		return nil, &OtherError{
			Reason: fmt.Sprintf("could not parse subscription message: %s", line),
			Err:    errors.Join(ErrMalformedMessage, err),
		}
	}

	tag, ok := intAt(elems, 0)
	if !ok {
		tag = -1
	}

	switch tag {
	case TagControl:
		return decodeControl(elems), nil
	case TagEvent:
		return decodeEvent(elems, parse)
	case TagEndOfStream:
		return decodeEndOfStream(elems)
	default:
		return nil, &OtherError{
			Reason: fmt.Sprintf("unknown message type: %s", line),
			Err:    ErrUnknownMessageType,
		}
	}
}

func decodeControl(elems []json.RawMessage) Message {
	body, _ := stringAt(elems, 1)
	return Control{Body: body}
}

func decodeEvent(elems []json.RawMessage, parse BodyParser) (Message, error) {
	var errs []error

	id, ok := stringAt(elems, 1)
	if !ok {
		errs = append(errs, &FieldError{Field: "eventId"})
	}

	var body any
	raw, ok := rawAt(elems, 3)
	if !ok {
		errs = append(errs, &FieldError{Field: "body"})
	} else {
		v, err := parse(id, raw)
		if err != nil {
			errs = append(errs, &OtherError{Reason: "could not parse event body", Err: err})
		}
		body = v
	}

	if len(errs) > 0 {
		return nil, &CompositeError{Errors: errs}
	}

	return Event{ID: id, Headers: headersAt(elems, 2), Body: body}, nil
}

func decodeEndOfStream(elems []json.RawMessage) (Message, error) {
	status, ok := intAt(elems, 1)
	if !ok {
		return nil, &CompositeError{Errors: []error{&FieldError{Field: "statusCode"}}}
	}

	eosErr := EOSError{Type: "unknown", Reason: "unknown"}
	if raw, ok := rawAt(elems, 3); ok {
		var parsed EOSError
		if err := json.Unmarshal(raw, &parsed); err == nil {
			if parsed.Type != "" {
				eosErr.Type = parsed.Type
			}
			if parsed.Reason != "" {
				eosErr.Reason = parsed.Reason
			}
		}
	}

	return EndOfStream{StatusCode: status, Headers: headersAt(elems, 2), Error: eosErr}, nil
}

func rawAt(elems []json.RawMessage, i int) (json.RawMessage, bool) {
	if i >= len(elems) || len(elems[i]) == 0 {
		return nil, false
	}
	return elems[i], true
}

func intAt(elems []json.RawMessage, i int) (int, bool) {
	raw, ok := rawAt(elems, i)
	if !ok {
		return 0, false
	}
	var n *int
	if err := json.Unmarshal(raw, &n); err != nil || n == nil {
		return 0, false
	}
	return *n, true
}

func stringAt(elems []json.RawMessage, i int) (string, bool) {
	raw, ok := rawAt(elems, i)
	if !ok {
		return "", false
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil || s == nil {
		return "", false
	}
	return *s, true
}

func headersAt(elems []json.RawMessage, i int) Headers {
	raw, ok := rawAt(elems, i)
	if !ok {
		return Headers{}
	}
	var h Headers
	if err := json.Unmarshal(raw, &h); err != nil || h == nil {
		return Headers{}
	}
	return h
}
