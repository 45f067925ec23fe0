package wire

import (
	"encoding/json"
	"fmt"
)

// EncodeControl renders a Control message as a single wire line (without
// the trailing newline).
func EncodeControl(body string) (string, error) {
	return encodeLine(TagControl, body)
}

// EncodeEvent renders an Event as a single wire line. The body is marshalled
// with encoding/json; a json.RawMessage body is emitted verbatim.
func EncodeEvent(ev Event) (string, error) {
	headers := ev.Headers
	if headers == nil {
		headers = Headers{}
	}
	body := ev.Body
	if body == nil {
		body = json.RawMessage("null")
	}
	return encodeLine(TagEvent, ev.ID, headers, body)
}

// EncodeEndOfStream renders an EndOfStream as a single wire line.
func EncodeEndOfStream(eos EndOfStream) (string, error) {
	headers := eos.Headers
	if headers == nil {
		headers = Headers{}
	}
	return encodeLine(TagEndOfStream, eos.StatusCode, headers, eos.Error)
}

func encodeLine(tag int, fields ...any) (string, error) {
	elems := append([]any{tag}, fields...)
	b, err := json.Marshal(elems)
	if err != nil {
		return "", fmt.Errorf("encode message %d: %w", tag, err)
	}
	return string(b), nil
}
