package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriticalLevelJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "json")

	Critical(context.Background(), logger, "job failed", "job_id", "job-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "CRITICAL", rec["level"])
	assert.Equal(t, "job failed", rec["msg"])
	assert.Equal(t, "job-1", rec["job_id"])
	assert.EqualValues(t, os.Getpid(), rec["pid"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "critical", "text")

	logger.Error("ignored")
	assert.Empty(t, buf.String())

	Critical(context.Background(), logger, "kept")
	assert.Contains(t, buf.String(), "level=CRITICAL")
	assert.Contains(t, buf.String(), "kept")
}

func TestDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "DEBUG", "text")
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
