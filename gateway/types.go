// Package gateway connects the dispatcher to the chat gateway. Transports
// deliver dispatcher events and carry operator replies back.
package gateway

import (
	"encoding/json"
	"time"

	"hearth/dispatcher"
	"hearth/libs"
)

const (
	Hearth string = "hearth"

	AdminChannel    string = "hearth-admin-channel"
	OperatorReplies string = "operator-reply"

	reconnectDelay = time.Second
	eventsBuffer   = 256
)

var (
	ErrInvalidEnvelope = libs.Error{
		Code: "INVALID_ENVELOPE",
		Msg:  "gateway frame is not a valid event envelope"}
	ErrNotConnected = libs.Error{
		Code: "GATEWAY_NOT_CONNECTED",
		Msg:  "gateway connection is not established"}
)

// decodeEnvelope turns a raw frame into a dispatcher event. fallbackKind is
// used when the frame itself does not name its kind.
func decodeEnvelope(data []byte, fallbackKind string, now time.Time) (dispatcher.Event, error) {
	var env libs.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return dispatcher.Event{}, ErrInvalidEnvelope
	}

	kind := env.Kind
	if kind == "" {
		kind = fallbackKind
	}
	if kind == "" {
		return dispatcher.Event{}, ErrInvalidEnvelope
	}

	return dispatcher.Event{
		Kind:       dispatcher.EventKind(kind),
		Payload:    env.Payload,
		ReceivedAt: now,
	}, nil
}
