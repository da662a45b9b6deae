package log

import (
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{"trace", logrus.TraceLevel},
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"fatal", logrus.FatalLevel},
		{"", logrus.InfoLevel},
		{"bogus", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			logger := New()
			logger.SetLevel(tt.level)
			assert.Equal(t, tt.expected, logger.GetLogrus().GetLevel())
		})
	}
}

func TestLevelFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger := New()
	assert.Equal(t, logrus.DebugLevel, logger.GetLogrus().GetLevel())
}

func TestFormattedOutput(t *testing.T) {
	logger := New()
	hook := logtest.NewLocal(logger.GetLogrus())

	logger.Info("device %s channel %d", "dev1", 3)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "device dev1 channel 3", hook.LastEntry().Message)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestWithField(t *testing.T) {
	logger := New()
	hook := logtest.NewLocal(logger.GetLogrus())

	logger.WithField("device", "dev1").Warn("offline")

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "dev1", hook.LastEntry().Data["device"])
}
