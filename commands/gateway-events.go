package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"hearth/dispatcher"
	"hearth/jobs"
	"hearth/libs"

	"go.uber.org/zap"
)

const ThreadSyncJob = "thread-sync"

var ErrInvalidEventPayload = libs.Error{
	Code: "INVALID_EVENT_PAYLOAD",
	Msg:  "gateway event payload is invalid"}

type ThreadCreated struct {
	ThreadId  string `json:"threadId"`
	ChannelId string `json:"channelId"`
}

// ThreadCreatedHandler asks for a thread backfill whenever a thread appears.
// A backfill already in flight picks the new thread up, so a skipped run is
// not an error.
type ThreadCreatedHandler struct {
	Trigger TriggerJobHandler
	Job     string
	Logger  *zap.SugaredLogger
}

func (h ThreadCreatedHandler) Handle(ctx context.Context, evt dispatcher.Event) error {
	var e ThreadCreated
	if err := json.Unmarshal(evt.Payload, &e); err != nil || e.ThreadId == "" {
		return ErrInvalidEventPayload
	}

	res, err := h.Trigger.Handle(ctx, TriggerJob{Job: h.Job, Origin: jobs.OriginEvent})
	if errors.Is(err, jobs.ErrJobAlreadyRunning) {
		h.Logger.Debugf("thread %s created while %s is running", e.ThreadId, h.Job)
		return nil
	}
	if err != nil {
		return fmt.Errorf("backfill for thread %s: %w", e.ThreadId, err)
	}

	h.Logger.Infof("thread %s backfilled by run %s", e.ThreadId, res.JobRunId)

	return nil
}

type MessageCreated struct {
	MessageId   string   `json:"messageId"`
	ChannelId   string   `json:"channelId"`
	Attachments []string `json:"attachments"`
}

// AttachmentProbeHandler checks that every attachment of a new message is
// reachable. Probes run concurrently up to Limit; unreachable attachments are
// logged and do not fail the event.
type AttachmentProbeHandler struct {
	Client *http.Client
	Limit  int
	Logger *zap.SugaredLogger
}

func (h AttachmentProbeHandler) Handle(ctx context.Context, evt dispatcher.Event) error {
	var e MessageCreated
	if err := json.Unmarshal(evt.Payload, &e); err != nil {
		return ErrInvalidEventPayload
	}

	if len(e.Attachments) == 0 {
		return nil
	}

	statuses := jobs.MapOptional(ctx, e.Attachments, h.Limit, h.probe)

	for i, status := range statuses {
		if status == nil {
			h.Logger.Warnf("message %s attachment %s unreachable", e.MessageId, e.Attachments[i])
		}
	}

	return nil
}

func (h AttachmentProbeHandler) probe(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("attachment %s responded %d", url, resp.StatusCode)
	}

	return resp.StatusCode, nil
}
