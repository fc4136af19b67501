package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire format names accepted by NewCodec.
const (
	FormatEvent    = "event"
	FormatEnvelope = "envelope"
)

// Codec converts between wire frames and events.
type Codec interface {
	// Decode parses a raw frame into an Event.
	Decode(data []byte) (Event, error)

	// Encode builds an outbound frame for the named event.
	Encode(name string, payload any) ([]byte, error)
}

// NewCodec returns the codec for a configured wire format.
func NewCodec(format string) (Codec, error) {
	switch format {
	case FormatEvent, "":
		return EventCodec{}, nil
	case FormatEnvelope:
		return EnvelopeCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// eventWire is the socket-style frame.
type eventWire struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EventCodec implements the socket-style {"event", "data"} format.
type EventCodec struct{}

// Decode parses an {"event", "data"} frame.
func (EventCodec) Decode(data []byte) (Event, error) {
	var wire eventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return Event{}, fmt.Errorf("parse event frame: %w", err)
	}
	if wire.Event == "" {
		return Event{}, ErrMissingEventName
	}
	if IsReserved(wire.Event) {
		return Event{}, fmt.Errorf("%w: %s", ErrReservedEvent, wire.Event)
	}
	return Event{
		Name:       wire.Event,
		Payload:    wire.Data,
		ReceivedAt: time.Now(),
	}, nil
}

// Encode builds an {"event", "data"} frame.
func (EventCodec) Encode(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, ErrMissingEventName
	}
	wire := eventWire{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		wire.Data = data
	}
	return json.Marshal(wire)
}
