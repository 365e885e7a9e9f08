package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitLoggerSplitsStreams(t *testing.T) {
	root := t.TempDir()
	started := time.Date(2026, 10, 18, 9, 5, 7, 0, time.UTC)

	var echoed bytes.Buffer
	parent := logrus.New()
	parent.SetOutput(&echoed)

	logger, err := NewUnitLogger(root, "2001", started, parent)
	require.NoError(t, err)

	logger.Info("Processing page 1 of 3")
	logger.Warn("No entries detected, refreshing page")
	logger.Error("Attempt 1 failed")
	require.NoError(t, logger.Close())

	info, err := os.ReadFile(filepath.Join(root, "2001", "info", "info_20261018_090507.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "Processing page 1 of 3")
	assert.Contains(t, string(info), "No entries detected")
	assert.NotContains(t, string(info), "Attempt 1 failed")
	assert.Contains(t, string(info), "unit=2001")

	errs, err := os.ReadFile(filepath.Join(root, "2001", "error", "error_20261018_090507.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errs), "Attempt 1 failed")
	assert.NotContains(t, string(errs), "Processing page")

	assert.NotContains(t, echoed.String(), "Processing page")
	assert.Contains(t, echoed.String(), "No entries detected")
	assert.Contains(t, echoed.String(), "Attempt 1 failed")
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Setup("chatty"))
	assert.NoError(t, Setup("debug"))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	logrus.SetLevel(logrus.InfoLevel)
}
