package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Envelope message classes.
const (
	ClassLobby = "lobby"
	ClassGame  = "game"
)

// inboundAliases maps lowercased backend types onto phase events.
var inboundAliases = map[string]string{
	"joinroomsuccess": EventMatchFound,
	"opponentjoin":    EventMatchFound,
	"newround":        EventGameStart,
	"gameend":         EventGameOver,
}

// lobbyRequests are the outbound names sent with class "lobby".
var lobbyRequests = map[string]bool{
	EventHandshake:  true,
	EventCreateRoom: true,
	EventJoinRoom:   true,
	EventLeaveRoom:  true,
}

// envelopeHeader is used for fast class/type extraction.
type envelopeHeader struct {
	Class string `json:"class"`
	Type  string `json:"type"`
}

// EnvelopeCodec implements the backend's {"class", "type", ...} format.
// The whole frame object is kept as the event payload.
type EnvelopeCodec struct{}

// Decode parses a class/type frame.
func (EnvelopeCodec) Decode(data []byte) (Event, error) {
	var header envelopeHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return Event{}, fmt.Errorf("parse envelope frame: %w", err)
	}
	if header.Type == "" {
		return Event{}, ErrMissingEventName
	}

	name, ok := inboundAliases[strings.ToLower(header.Type)]
	if !ok {
		name = snakeCase(header.Type)
	}
	if IsReserved(name) {
		return Event{}, fmt.Errorf("%w: %s", ErrReservedEvent, name)
	}

	return Event{
		Name:       name,
		Payload:    json.RawMessage(data),
		ReceivedAt: time.Now(),
	}, nil
}

// Encode builds a class/type frame. Payload fields are merged beside class and type.
func (EnvelopeCodec) Encode(name string, payload any) ([]byte, error) {
	if name == "" {
		return nil, ErrMissingEventName
	}

	fields := make(map[string]json.RawMessage)
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		if string(data) != "null" {
			if err := json.Unmarshal(data, &fields); err != nil {
				return nil, ErrPayloadNotObject
			}
		}
	}

	class := ClassGame
	if lobbyRequests[name] {
		class = ClassLobby
	}

	fields["class"], _ = json.Marshal(class)
	fields["type"], _ = json.Marshal(camelCase(name))

	return json.Marshal(fields)
}

// camelCase converts "create_room" to "CreateRoom".
func camelCase(name string) string {
	caser := cases.Title(language.Und)
	var b strings.Builder
	for _, word := range strings.Split(name, "_") {
		b.WriteString(caser.String(word))
	}
	return b.String()
}

// snakeCase converts "HandShakeSuccess" to "hand_shake_success".
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
