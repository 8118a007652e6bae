// Package report delivers handler and job failures to error sinks.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"hearth/libs"

	"go.uber.org/zap"
)

type Reporter interface {
	Report(ctx context.Context, err error)
}

type Func func(ctx context.Context, err error)

func (f Func) Report(ctx context.Context, err error) {
	f(ctx, err)
}

// Safely hands err to r. A nil reporter or a panicking one never reaches the caller.
func Safely(ctx context.Context, r Reporter, err error) {
	if r == nil || err == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	r.Report(ctx, err)
}

type Multi []Reporter

func (m Multi) Report(ctx context.Context, err error) {
	for _, r := range m {
		Safely(ctx, r, err)
	}
}

type Logger struct {
	logger *zap.SugaredLogger
}

func NewLogger(logger *zap.SugaredLogger) Logger {
	return Logger{logger: logger}
}

func (l Logger) Report(_ context.Context, err error) {
	var e libs.Error
	if errors.As(err, &e) {
		l.logger.Errorw("reported failure", "code", e.Code, "error", err)
		return
	}

	l.logger.Errorw("reported failure", "error", err)
}

type WebhookPayload struct {
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error"`
	Service    string    `json:"service"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Webhook posts every failure as json to an external collector.
type Webhook struct {
	url     string
	service string
	client  *http.Client
	logger  *zap.SugaredLogger
	now     func() time.Time
}

func NewWebhook(url, service string, timeout time.Duration, logger *zap.SugaredLogger) *Webhook {
	return &Webhook{
		url:     url,
		service: service,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}
}

func (w *Webhook) Report(ctx context.Context, err error) {
	if sendErr := w.send(ctx, err); sendErr != nil {
		w.logger.Warnf("error webhook delivery failed - %v", sendErr)
	}
}

func (w *Webhook) send(ctx context.Context, err error) error {
	payload := WebhookPayload{
		Error:      err.Error(),
		Service:    w.service,
		OccurredAt: w.now().UTC().Round(time.Second),
	}

	var e libs.Error
	if errors.As(err, &e) {
		payload.Code = e.Code
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// the failing operation's context may already be cancelled
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, w.url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set(libs.ContentTypeHeader, libs.ApplicationJson)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("error during sending post to %s - %w", w.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unexpected webhook status %d", resp.StatusCode)
	}

	return nil
}
