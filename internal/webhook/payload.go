// Package webhook extracts the fields this service needs from gateway
// callbacks. The gateway has shipped several payload shapes over time, so
// every logical field is looked up through an explicit, ordered alias list.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/LeventeLantos/whatsapp-dispatch/internal/model"
)

// EventInboundMessage marks a "new inbound message" callback.
const EventInboundMessage = "message:in:new"

const maxPayloadBytes = 1 << 20

var (
	ErrInvalidPayload  = errors.New("invalid webhook payload")
	ErrUnexpectedEvent = errors.New("unexpected webhook event")
	ErrMissingField    = errors.New("missing webhook field")
)

// Alias lists, highest priority first.
var (
	inboundIDKeys     = []string{"data.id", "data.message.id", "message.id", "id"}
	inboundPhoneKeys  = []string{"data.fromNumber", "data.chat.contact.phone", "from", "contact.phone"}
	inboundBodyKeys   = []string{"data.body", "body.text", "text", "message"}
	inboundStatusKeys = []string{"data.status", "status"}

	statusIDKeys  = []string{"id", "data.id", "message.id"}
	statusAckKeys = []string{"data.ack", "data.status", "status"}
)

type Payload map[string]any

// Decode reads a JSON object. Numbers are kept as json.Number so numeric ids
// survive without float formatting.
func Decode(r io.Reader) (Payload, error) {
	dec := json.NewDecoder(io.LimitReader(r, maxPayloadBytes))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", ErrInvalidPayload)
	}
	return p, nil
}

// DecodeBytes is Decode for an in-memory body.
func DecodeBytes(b []byte) (Payload, error) {
	return Decode(bytes.NewReader(b))
}

// First returns the first alias that resolves to a non-empty scalar.
func (p Payload) First(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := p.Lookup(k); ok {
			return v, true
		}
	}
	return "", false
}

// Lookup resolves a dotted path. Strings and numbers count as values;
// objects, arrays, booleans, null and blank strings do not. Strings are
// returned as sent.
func (p Payload) Lookup(path string) (string, bool) {
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[part]
		if !ok {
			return "", false
		}
	}

	switch v := cur.(type) {
	case string:
		return v, strings.TrimSpace(v) != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

type Inbound struct {
	GatewayMessageID string
	Phone            string
	Body             string
	Status           model.Status
}

// ParseInbound validates a new-inbound-message callback and extracts its
// fields. Sender phone and body are required.
func ParseInbound(p Payload) (Inbound, error) {
	event, _ := p.Lookup("event")
	if event != EventInboundMessage {
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnexpectedEvent, event)
	}

	phone, ok := p.First(inboundPhoneKeys...)
	if !ok {
		return Inbound{}, fmt.Errorf("%w: sender phone", ErrMissingField)
	}
	body, ok := p.First(inboundBodyKeys...)
	if !ok {
		return Inbound{}, fmt.Errorf("%w: body", ErrMissingField)
	}

	in := Inbound{
		Phone:  phone,
		Body:   body,
		Status: model.Received,
	}
	in.GatewayMessageID, _ = p.First(inboundIDKeys...)
	if s, ok := p.First(inboundStatusKeys...); ok {
		in.Status = model.Status(s)
	}
	return in, nil
}

type StatusUpdate struct {
	GatewayMessageID string
	Status           model.Status
}

// ParseStatus extracts the gateway message id and the acknowledgment, which
// is applied verbatim.
func ParseStatus(p Payload) (StatusUpdate, error) {
	id, ok := p.First(statusIDKeys...)
	if !ok {
		return StatusUpdate{}, fmt.Errorf("%w: message id", ErrMissingField)
	}
	ack, ok := p.First(statusAckKeys...)
	if !ok {
		return StatusUpdate{}, fmt.Errorf("%w: ack", ErrMissingField)
	}
	return StatusUpdate{GatewayMessageID: id, Status: model.Status(ack)}, nil
}
