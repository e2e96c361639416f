package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/fyerfyer/elis-rag/config"
	"github.com/fyerfyer/elis-rag/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	t.Run("invalid level falls back to info", func(t *testing.T) {
		l := setupLogger(config.LogConfig{Level: "loud", Format: "text"})
		assert.Equal(t, logrus.InfoLevel, l.GetLevel())
		assert.IsType(t, &logrus.TextFormatter{}, l.Formatter)
	})

	t.Run("json output to rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "elis.log")
		l := setupLogger(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSize: 1})
		assert.Equal(t, logrus.DebugLevel, l.GetLevel())

		l.Info("hello")
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"msg":"hello"`)
	})
}

func TestParseFilterFlag(t *testing.T) {
	f, err := parseFilterFlag("")
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = parseFilterFlag(`{"source_type":["local_file"],"quality_score":0.5}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"local_file"}, f.SourceTypes)
	require.NotNil(t, f.QualityMin)
	assert.Equal(t, 0.5, *f.QualityMin)

	_, err = parseFilterFlag(`{not json`)
	assert.ErrorIs(t, err, models.ErrInvalidFilter)
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "search", "context", "remove", "rebuild", "stats", "cleanup", "serve", "worker"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, map[string]string{"context": "<a> & b"}))
	assert.Contains(t, buf.String(), `"context": "<a> & b"`)
}
