package main

import (
	"os"
	"path/filepath"
	"testing"

	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		logger.SetFormatter(&logger.TextFormatter{})
		logger.SetLevel(logger.InfoLevel)
	})
}

func TestSetupLoggerWritesAndClosesRotatedFile(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "logs", "rektbot.log")

	closer, err := SetupLogger(LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})
	require.NoError(t, err)
	require.IsType(t, &lumberjack.Logger{}, closer)
	assert.Equal(t, logger.DebugLevel, logger.GetLevel())

	logger.WithField("order_id", "evt-1").Info("position opened")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"order_id":"evt-1"`)
	assert.Contains(t, string(raw), "position opened")
}

func TestSetupLoggerWithoutFile(t *testing.T) {
	resetLogger(t)

	closer, err := SetupLogger(LogConfig{Level: "bogus"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, logger.InfoLevel, logger.GetLevel())
}
