package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"hearth/libs"
)

type EventKind string

const (
	MessageCreated  EventKind = "message-created"
	MemberUpdated   EventKind = "member-updated"
	ThreadCreated   EventKind = "thread-created"
	OperatorCommand EventKind = "operator-command"
)

type Event struct {
	Kind       EventKind
	Payload    json.RawMessage
	ReceivedAt time.Time

	// Settle, when set by the source, is called by Run once Dispatch has
	// either accepted the event or refused it.
	Settle func(accepted bool) `json:"-"`
}

type Handler func(ctx context.Context, evt Event) error

// Source is the connection the dispatcher reads events from.
// The returned channel is closed when the connection is gone for good.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

var (
	ErrDispatcherStopped = libs.Error{
		Code: "DISPATCHER_STOPPED",
		Msg:  "dispatcher does not accept new events"}
	ErrHandlerPanic = libs.Error{
		Code: "HANDLER_PANIC",
		Msg:  "handler panicked"}
)
