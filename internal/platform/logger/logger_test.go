package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carekeeper/internal/platform/config"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, config.LogConfig{Format: "json", Level: "warn"})

	log.Info("dropped")
	assert.Zero(t, buf.Len(), "info is below warn")

	log.Warn("kept", "user_id", "u-1")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "carekeeper", line["service"])
	assert.Equal(t, "u-1", line["user_id"])
}
