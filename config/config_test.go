package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"hearth/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7468", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, RabbitMqGateway, cfg.Gateway.Transport)
	assert.Len(t, cfg.Gateway.EventKinds, 4)
	require.Len(t, cfg.Jobs, 3)
	assert.Equal(t, "reindex", cfg.Jobs[0].Name)
	assert.Equal(t, 10*time.Minute, cfg.Jobs[0].Timeout)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
gateway:
  transport: websocket
  websocket_url: ws://gateway.internal/events
jobs:
  - name: reindex
    schedule: "*/30 * * * * *"
    timezone: Europe/Warsaw
    endpoints: ["http://backend/reindex"]
    limit: 2
    timeout: 1m
    retry:
      strategy: exponential
      count: 3
      interval: 10s
`)
	t.Setenv("HEARTH_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, WebsocketGateway, cfg.Gateway.Transport)
	assert.Equal(t, "ws://gateway.internal/events", cfg.Gateway.WebsocketUrl)
	require.Len(t, cfg.Jobs, 1)

	job := cfg.Jobs[0]
	assert.Equal(t, jobs.ScheduleSpec{Expression: "*/30 * * * * *", Timezone: "Europe/Warsaw"}, job.ScheduleSpec())
	assert.Equal(t, []string{"http://backend/reindex"}, job.Endpoints)

	rp, err := job.RetryPolicy()
	require.NoError(t, err)
	assert.Equal(t, jobs.RetryPolicy{Strategy: jobs.Exponential, Count: 3, Interval: "10s"}, rp)
}

func TestLoadRejectsInvalidConfiguration(t *testing.T) {
	tests := map[string]struct {
		content string

		expectErr string
	}{
		"invalid_transport": {
			content:   "gateway:\n  transport: carrier-pigeon\n",
			expectErr: "invalid gateway transport",
		},
		"invalid_schedule": {
			content:   "jobs:\n  - name: sitemap\n    schedule: whenever\n",
			expectErr: "INVALID_SCHEDULE",
		},
		"duplicated_job": {
			content:   "jobs:\n  - name: sitemap\n    schedule: \"@hourly\"\n  - name: sitemap\n    schedule: \"@daily\"\n",
			expectErr: "duplicated job sitemap",
		},
		"invalid_retry": {
			content:   "jobs:\n  - name: sitemap\n    schedule: \"@hourly\"\n    retry:\n      strategy: random\n",
			expectErr: "invalid strategy type",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.content))

			require.Error(t, err)
			assert.Contains(t, err.Error(), test.expectErr)
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hearth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}
