package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsec/oauthd/pkg/contextkeys"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"ERROR":   ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for name, want := range cases {
		assert.Equal(t, want, ParseLogLevel(name), "level %q", name)
	}
}

func TestLoggerEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"client_id": "web-app",
		"grant":     "password",
	}).Info("token issued")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "token issued", entry["msg"])
	assert.Equal(t, "web-app", entry["client_id"])
	assert.Equal(t, "password", entry["grant"])
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Info("suppressed")
	assert.Zero(t, buf.Len())

	logger.Warnf("slow %s", "query")
	assert.Contains(t, buf.String(), "slow query")
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	logger.WithError(assert.AnError).Error("storage failure")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, assert.AnError.Error(), entry["error"])

	// nil error leaves the logger unchanged
	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContextCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-123")

	FromContext(ctx).Info("handled")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-123", entry["request_id"])
}
