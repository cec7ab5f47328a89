package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(&buf, level)
	t.Cleanup(func() { Configure(&bytes.Buffer{}, LevelWarn) })
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestLoggerEmitsComponentAndEvent(t *testing.T) {
	buf := capture(t, LevelDebug)

	New("gateway").Info("request", map[string]interface{}{"path": "/cart/get_cart"})

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "info", got[0]["level"])
	assert.Equal(t, "gateway", got[0]["component"])
	assert.Equal(t, "request", got[0]["event"])
	assert.NotEmpty(t, got[0]["ts"])
	extra := got[0]["extra"].(map[string]interface{})
	assert.Equal(t, "/cart/get_cart", extra["path"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	buf := capture(t, LevelWarn)
	log := New("cart")

	log.Debug("ignored", nil)
	log.Info("ignored", nil)
	log.Warn("kept", nil, errors.New("boom"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "warn", got[0]["level"])
	assert.Equal(t, "boom", got[0]["error"])
}

func TestLoggerWith(t *testing.T) {
	buf := capture(t, LevelDebug)

	New("feedback").With("product_id", 7).Error("rollback", nil, errors.New("rejected"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, float64(7), got[0]["product_id"])
	assert.Equal(t, "error", got[0]["level"])
}

func TestTimedEvent(t *testing.T) {
	buf := capture(t, LevelInfo)

	New("persist").TimedEvent("rehydrate", time.Now().Add(-50*time.Millisecond), nil)

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.GreaterOrEqual(t, got[0]["duration_ms"].(float64), float64(50))
}

func TestParseLevelFallsBackToWarn(t *testing.T) {
	buf := capture(t, Level("loud"))

	New("x").Info("hidden", nil)
	New("x").Warn("shown", nil, nil)

	assert.Len(t, lines(t, buf), 1)
}
