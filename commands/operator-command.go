package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hearth/dispatcher"
	"hearth/jobs"
	"hearth/libs"

	"go.uber.org/zap"
)

const (
	RunCommand    = "run"
	StatusCommand = "status"
)

var (
	ErrInvalidOperatorCommand = libs.Error{
		Code: "INVALID_OPERATOR_COMMAND",
		Msg:  "operator command payload is invalid"}
	ErrUnknownOperatorCommand = libs.Error{
		Code: "UNKNOWN_OPERATOR_COMMAND",
		Msg:  "operator command is not supported"}
)

// Replier sends the outcome of an operator command back to the channel it
// came from.
type Replier interface {
	Reply(ctx context.Context, reply libs.OperatorReply) error
}

type OperatorCommandHandler struct {
	Trigger  TriggerJobHandler
	Families *jobs.Families
	Replier  Replier
	Logger   *zap.SugaredLogger
}

// Handle is subscribed to operator-command events. Outcomes the operator
// should see (already running, failed, unknown job) are replied and not
// returned, so only undeliverable commands reach the error reporter.
func (h OperatorCommandHandler) Handle(ctx context.Context, evt dispatcher.Event) error {
	var c libs.OperatorCommand
	if err := json.Unmarshal(evt.Payload, &c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperatorCommand, err)
	}

	c.Command = strings.ToLower(strings.TrimSpace(c.Command))
	c.Job = strings.TrimSpace(c.Job)

	var message string
	switch c.Command {
	case RunCommand:
		message = h.run(ctx, c)
	case StatusCommand:
		message = h.status(c)
	default:
		message = fmt.Sprintf("unknown command %q, use %s or %s", c.Command, RunCommand, StatusCommand)
	}

	h.Logger.Infof("operator %s issued %s %s", c.UserId, c.Command, c.Job)

	if err := h.Replier.Reply(ctx, libs.OperatorReply{ChannelId: c.ChannelId, Message: message}); err != nil {
		return fmt.Errorf("replying to operator %s: %w", c.UserId, err)
	}

	return nil
}

func (h OperatorCommandHandler) run(ctx context.Context, c libs.OperatorCommand) string {
	res, err := h.Trigger.Handle(ctx, TriggerJob{Job: c.Job, Origin: jobs.OriginOperator})

	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		return fmt.Sprintf("unknown job %q, available: %s", c.Job, strings.Join(h.Families.Names(), ", "))
	case errors.Is(err, jobs.ErrJobAlreadyRunning):
		return fmt.Sprintf("job %s is already running", c.Job)
	case err != nil:
		return fmt.Sprintf("job %s failed - %v", c.Job, err)
	default:
		return fmt.Sprintf("job %s finished (run %s)", c.Job, res.JobRunId)
	}
}

func (h OperatorCommandHandler) status(c libs.OperatorCommand) string {
	names := h.Families.Names()
	if c.Job != "" {
		names = []string{c.Job}
	}

	lines := make([]string, 0, len(names))
	for _, name := range names {
		family, err := h.Families.Get(name)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: unknown job", name))
			continue
		}

		state := "idle"
		if family.Running() {
			state = "running"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, state))
	}

	return strings.Join(lines, "\n")
}
