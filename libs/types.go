package libs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	ContentTypeHeader        = "Content-Type"
	ApplicationJson   string = "application/json"
)

type Error struct {
	Code string
	Msg  string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s - %s", e.Code, e.Msg)
}

// EventEnvelope is the frame every gateway transport carries.
type EventEnvelope struct {
	Id      uuid.UUID       `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type JobRunRequest struct {
	JobRunId uuid.UUID `json:"jobRunId"`
	Job      string    `json:"job"`
	Origin   string    `json:"origin"`
}

type OperatorCommand struct {
	ChannelId string `json:"channelId"`
	UserId    string `json:"userId"`
	Command   string `json:"command"`
	Job       string `json:"job"`
}

type OperatorReply struct {
	ChannelId string `json:"channelId"`
	Message   string `json:"message"`
}
