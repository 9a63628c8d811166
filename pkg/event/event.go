// Package event defines the change notifications relayed to clients joined
// to a request channel, together with the schema each kind must satisfy.
package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindNewMessage     Kind = "newMessage"
	KindMessageUpdated Kind = "messageUpdated"
	KindMessageDeleted Kind = "messageDeleted"
	KindRequestUpdated Kind = "requestUpdated"
)

func (k Kind) Known() bool {
	switch k {
	case KindNewMessage, KindMessageUpdated, KindMessageDeleted, KindRequestUpdated:
		return true
	}

	return false
}

var ErrUnknownKind = errors.New("unknown event kind")

type ValidationError struct {
	Kind   Kind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s %s", e.Kind, e.Field, e.Reason)
}

// Payload is implemented by the payload type of every known kind and by
// Opaque, which carries events of kinds the relay does not know about.
type Payload interface {
	normalize(channel string) error
}

type Event struct {
	Kind    Kind
	Payload Payload

	params json.RawMessage
}

// Encode returns a copy of the event carrying its encoded payload, so a
// fan-out encodes it once for all recipients.
func (e Event) Encode() (Event, error) {
	if e.params != nil {
		return e, nil
	}

	params, err := json.Marshal(e.Payload)
	if err != nil {
		return Event{}, err
	}

	e.params = params

	return e, nil
}

// Params returns the encoded payload.
func (e Event) Params() (json.RawMessage, error) {
	if e.params != nil {
		return e.params, nil
	}

	return json.Marshal(e.Payload)
}

type Metadata struct {
	UserId   string `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	UserRole string `json:"user_role,omitempty"`
}

type NewMessage struct {
	Id          string    `json:"id"`
	RequestId   string    `json:"request_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	EntityType  string    `json:"entity_type,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (p *NewMessage) normalize(channel string) error {
	if p.Id == "" {
		return &ValidationError{KindNewMessage, "id", "is required"}
	}

	if p.Action == "" {
		return &ValidationError{KindNewMessage, "action", "is required"}
	}

	if err := matchChannel(KindNewMessage, "request_id", &p.RequestId, channel); err != nil {
		return err
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	return nil
}

type MessageUpdated struct {
	Id          string `json:"id"`
	RequestId   string `json:"request_id"`
	Description string `json:"description"`
}

func (p *MessageUpdated) normalize(channel string) error {
	if p.Id == "" {
		return &ValidationError{KindMessageUpdated, "id", "is required"}
	}

	return matchChannel(KindMessageUpdated, "request_id", &p.RequestId, channel)
}

type MessageDeleted struct {
	Id        string `json:"id"`
	RequestId string `json:"request_id"`
}

func (p *MessageDeleted) normalize(channel string) error {
	if p.Id == "" {
		return &ValidationError{KindMessageDeleted, "id", "is required"}
	}

	return matchChannel(KindMessageDeleted, "request_id", &p.RequestId, channel)
}

// RequestUpdated reports a change to one field of the request itself, so its
// id is the request identifier the channel is keyed by.
type RequestUpdated struct {
	Id    string `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (p *RequestUpdated) normalize(channel string) error {
	if p.Field == "" {
		return &ValidationError{KindRequestUpdated, "field", "is required"}
	}

	if p.Value == nil {
		return &ValidationError{KindRequestUpdated, "value", "is required"}
	}

	return matchChannel(KindRequestUpdated, "id", &p.Id, channel)
}

// Opaque is the verbatim payload of an event whose kind is not known.
type Opaque json.RawMessage

func (p Opaque) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}

	return json.RawMessage(p).MarshalJSON()
}

func (p Opaque) normalize(string) error {
	return nil
}

func matchChannel(kind Kind, field string, value *string, channel string) error {
	if *value == "" {
		*value = channel

		return nil
	}

	if *value != channel {
		return &ValidationError{kind, field, "does not match the target channel"}
	}

	return nil
}

// Decode turns a raw payload for the given kind into a validated Event
// targeted at channel. Payloads of known kinds must match their schema
// exactly, fields it does not name included. Unknown kinds are carried as
// Opaque unless strict is set, in which case ErrUnknownKind is returned.
func Decode(kind string, raw json.RawMessage, channel string, strict bool) (Event, error) {
	k := Kind(kind)
	if k == "" {
		return Event{}, &ValidationError{k, "event", "is required"}
	}

	if !k.Known() {
		if strict {
			return Event{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
		}

		return Event{Kind: k, Payload: Opaque(bytes.Clone(raw))}, nil
	}

	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Event{}, &ValidationError{k, "payload", "is required"}
	}

	var payload Payload
	switch k {
	case KindNewMessage:
		payload = &NewMessage{}
	case KindMessageUpdated:
		payload = &MessageUpdated{}
	case KindMessageDeleted:
		payload = &MessageDeleted{}
	case KindRequestUpdated:
		payload = &RequestUpdated{}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(payload); err != nil {
		return Event{}, &ValidationError{k, "payload", "is malformed: " + err.Error()}
	}

	if err := payload.normalize(channel); err != nil {
		return Event{}, err
	}

	return Event{Kind: k, Payload: payload}, nil
}

// New builds a validated event from a typed payload.
func New(channel string, payload Payload) (Event, error) {
	var kind Kind
	switch payload.(type) {
	case *NewMessage:
		kind = KindNewMessage
	case *MessageUpdated:
		kind = KindMessageUpdated
	case *MessageDeleted:
		kind = KindMessageDeleted
	case *RequestUpdated:
		kind = KindRequestUpdated
	default:
		return Event{}, fmt.Errorf("%w: %T", ErrUnknownKind, payload)
	}

	if err := payload.normalize(channel); err != nil {
		return Event{}, err
	}

	return Event{Kind: kind, Payload: payload}, nil
}
