package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	logger "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
	// File enables a rotated copy of the log next to stdout.
	File       string `envconfig:"LOG_FILE"`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"30"`
	AppName    string `envconfig:"APP_NAME" default:"rektbot"`
}

func GetLogConfig() LogConfig {
	var config LogConfig
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogger configures the standard logger. The returned closer releases the rotated log
// file and must be closed once logging is over.
func SetupLogger(config LogConfig) (io.Closer, error) {
	level, err := logger.ParseLevel(strings.ToLower(config.Level))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(config.Format, "json") {
		logger.SetFormatter(&logger.JSONFormatter{})
	} else {
		logger.SetFormatter(&logger.TextFormatter{
			FullTimestamp: true,
		})
	}

	if config.File == "" {
		logger.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(config.File), 0o755); err != nil {
		return nil, err
	}
	rotator := &lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSizeMB,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAgeDays,
		Compress:   true,
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}

func handlePanic(appName string) {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", appName))
		// let the log writers flush
		time.Sleep(time.Second * 5)
		os.Exit(2)
	}
}
