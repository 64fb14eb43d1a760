package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	Configure("text", LogLevelInfo, nil)
	SetOutput(os.Stdout)
}

func TestComponentLevelInheritance(t *testing.T) {
	var buf bytes.Buffer
	Configure("text", LogLevelWarn, map[string]LogLevel{Provider: LogLevelDebug})
	SetOutput(&buf)
	t.Cleanup(reset)

	Get(ProviderConn).Debug("Inherited debug")
	Get(FPM).Info("Suppressed info")
	Get(FPM).Warn("Visible warning")

	out := buf.String()
	assert.Contains(t, out, "[provider.conn] Inherited debug")
	assert.NotContains(t, out, "Suppressed info")
	assert.Contains(t, out, "[fpm] Visible warning")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	Configure("json", LogLevelInfo, nil)
	SetOutput(&buf)
	t.Cleanup(reset)

	WithSession(Get(Dataplane), "abc").Info("Dataplane session opened")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Dataplane session opened", rec["msg"])
	assert.Equal(t, "dataplane", rec["component"])
	assert.Equal(t, "abc", rec["session_id"])
}

func TestGetComponentLevels(t *testing.T) {
	Configure("text", LogLevelInfo, nil)
	t.Cleanup(func() { Configure("text", LogLevelInfo, nil) })

	SetComponentLevel(Kernel, LogLevelDebug)
	assert.Equal(t, map[string]LogLevel{Kernel: LogLevelDebug}, GetComponentLevels())

	ClearComponentLevel(Kernel)
	assert.Empty(t, GetComponentLevels())
	assert.Equal(t, LogLevelInfo, GetDefaultLevel())
}

func TestTextAttributesKeepOrder(t *testing.T) {
	var buf bytes.Buffer
	Configure("text", LogLevelInfo, nil)
	SetOutput(&buf)
	t.Cleanup(reset)

	WithSession(Get(Gateway), "s1").Info("Request served", "method", "ShowPorts", "detail", "two words")

	out := buf.String()
	assert.Contains(t, out, " INFO [gateway] Request served session_id=s1 method=ShowPorts detail=\"two words\"\n")
}
