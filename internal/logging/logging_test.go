package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(&buf, "debug", false)

	Module(logger, "tasks").WithField("evt", "enqueue_ok").Info("job enqueued")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tasks", entry["mod"])
	assert.Equal(t, "enqueue_ok", entry["evt"])
	assert.Equal(t, "job enqueued", entry["message"])
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
}

func TestNew_UnknownLevel(t *testing.T) {
	logger := NewWithOutput(&bytes.Buffer{}, "loud", true)
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
