package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLevels(t *testing.T) {
	tests := []struct {
		level    string
		expected zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			Init(tt.level, false)
			assert.Equal(t, tt.expected, zerolog.GlobalLevel())
			assert.NotNil(t, Get())
		})
	}
}

func TestInitPrettyDoesNotPanic(t *testing.T) {
	Init("debug", true)
	Info().Msg("pretty output")
}

func capture(t *testing.T, emit func()) map[string]interface{} {
	t.Helper()

	var buf bytes.Buffer
	InitWriter(&buf, "debug")
	emit()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestWithComponent(t *testing.T) {
	entry := capture(t, func() {
		l := WithComponent("scheduler")
		l.Info().Msg("tick")
	})

	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "tick", entry["message"])
}

func TestWithTask(t *testing.T) {
	entry := capture(t, func() {
		l := WithTask("task-123")
		l.Warn().Msg("slow handler")
	})

	assert.Equal(t, "task-123", entry["task_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestWithWorker(t *testing.T) {
	entry := capture(t, func() {
		l := WithWorker("worker-1")
		l.Info().Int("active", 2).Msg("heartbeat")
	})

	assert.Equal(t, "worker-1", entry["worker_id"])
	assert.Equal(t, float64(2), entry["active"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, "error")

	Debug().Msg("hidden")
	Info().Msg("hidden too")
	assert.Zero(t, buf.Len())

	Error().Msg("visible")
	assert.NotZero(t, buf.Len())
}
