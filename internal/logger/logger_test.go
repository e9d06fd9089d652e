package logger

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendLog(t *testing.T) {
	var buf bytes.Buffer
	l := log.New(&buf)
	l.SetTimeFormat("")

	AppendLog(l, "updated Type 'Part'\r\n\n  \ncompiled JPO 'Helper'\n", "op", "Update")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "updated Type 'Part'")
	assert.Contains(t, lines[0], "op=Update")
	assert.Contains(t, lines[1], "compiled JPO 'Helper'")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abc...", Truncate("abcdef", 3))
	assert.Equal(t, "äö...", Truncate("äöü", 2))
}

func TestSetOutputReachesComponentLoggers(t *testing.T) {
	prev := Output()
	t.Cleanup(func() { SetOutput(prev) })

	var buf bytes.Buffer
	SetOutput(&buf)
	NewStyledLogger("Framed").Info("spawned", "pid", 42)
	Info("global")

	assert.Contains(t, buf.String(), "Framed")
	assert.Contains(t, buf.String(), "spawned")
	assert.Contains(t, buf.String(), "global")

	SetOutput(io.Discard)
	buf.Reset()
	Info("dropped")
	assert.Empty(t, buf.String())
}

func TestConfigure(t *testing.T) {
	prev := Output()
	t.Cleanup(func() { SetOutput(prev) })

	path := filepath.Join(t.TempDir(), "mxdeploy.log")
	require.NoError(t, Configure("debug", path, false))
	assert.Equal(t, log.DebugLevel, Logger.GetLevel())

	Debug("to file")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	t.Setenv("MXDEPLOY_LOG_LEVEL", "error")
	require.NoError(t, Configure("", path, false))
	assert.Equal(t, log.ErrorLevel, Logger.GetLevel())

	assert.Error(t, Configure("info", filepath.Join(t.TempDir(), "missing", "x.log"), false))
}
