package auth_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)

	logger := auth.NewLogrusLogger(base)
	logger.Warn("login failed", "username", "alice", "error", errors.New("bad password"), "dangling")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "login failed", entry["msg"])
	assert.Equal(t, "warning", entry["level"])
	assert.Equal(t, "auth", entry["component"])
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, "bad password", entry["error"])
	assert.Equal(t, "<missing>", entry["dangling"])
}

func TestLogrusLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetLevel(logrus.InfoLevel)

	logger := auth.NewLogrusLogger(base)
	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}
