package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(DebugLevel))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(ErrorLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("verbose"))
}

func TestInitJSONWithTaskFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf}))
	defer Close()

	logger := WithJobID(3, 7)
	logger.Info().Msg("job finished")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "job finished", rec["message"])
	assert.EqualValues(t, 3, rec["task_id"])
	assert.EqualValues(t, 7, rec["job_id"])
}

func TestInitSharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "task_runner.err")
	var tee bytes.Buffer
	require.NoError(t, Init(Config{JSONOutput: true, SharedFile: path, Output: &tee, Tee: true}))

	logger := WithComponent("runner")
	logger.Warn().Msg("payload exited")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "payload exited"))
	assert.Contains(t, tee.String(), "payload exited")
}

func TestInitRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	require.NoError(t, Init(Config{JSONOutput: true, Rotate: &RotateConfig{Path: path, MaxSizeMB: 1}}))

	logger := WithLoop("launcher")
	logger.Info().Msg("tick")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"loop":"launcher"`)
}

func TestOutputWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.log")
	var tee bytes.Buffer
	require.NoError(t, Init(Config{JSONOutput: true, Output: &tee, Tee: true, Rotate: &RotateConfig{Path: path, MaxSizeMB: 1}}))

	// A loop child writes its records straight to the supervisor's output
	_, err := Output().Write([]byte(`{"level":"info","loop":"monitor","message":"child tick"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, Close())
	assert.Equal(t, os.Stderr, Output())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "child tick")
	assert.Contains(t, tee.String(), "child tick")
}
