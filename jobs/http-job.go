package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hearth/libs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var InvalidJobStartResponse = libs.Error{
	Code: "INVALID_JOB_START_RESPONSE",
	Msg:  "invalid http response"}

// HttpJob asks every backend endpoint to perform the job and waits for all of
// them. Endpoints are called with bounded concurrency; one failing endpoint
// does not stop the others.
type HttpJob struct {
	job       string
	endpoints []string
	limit     int
	client    *http.Client
	logger    *zap.SugaredLogger
}

func NewHttpJob(job string, endpoints []string, limit int, timeout time.Duration, logger *zap.SugaredLogger) *HttpJob {
	return &HttpJob{
		job:       job,
		endpoints: endpoints,
		limit:     limit,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

func (h *HttpJob) Run(ctx context.Context) error {
	request := libs.JobRunRequest{
		JobRunId: uuid.New(),
		Job:      h.job,
		Origin:   string(OriginFrom(ctx)),
	}

	reached, done := MapOrDefault(ctx, h.endpoints, h.limit, func(ctx context.Context, url string) (bool, error) {
		if err := h.start(ctx, url, request); err != nil {
			h.logger.Warnf("job %s endpoint %s failed - %v", h.job, url, err)
			return false, err
		}
		return true, nil
	}, false)

	h.logger.Infof("job %s reached %d of %d endpoints", h.job, done, len(reached))

	if done < len(reached) {
		return fmt.Errorf("%w: %d of %d", ErrJobIncomplete, len(reached)-done, len(reached))
	}

	return nil
}

func (h *HttpJob) start(ctx context.Context, url string, request libs.JobRunRequest) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set(libs.ContentTypeHeader, libs.ApplicationJson)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("error during sending post to %s - %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return InvalidJobStartResponse
	}

	return nil
}
