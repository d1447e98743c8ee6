package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// setupLog points the default logger at stderr, teeing into log.file when
// one is configured. The returned closer releases the file.
func setupLog() (func() error, error) {
	opts := log.Options{
		Prefix:          appName,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}

	path := viper.GetString("log.file")
	if path == "" {
		log.SetDefault(log.NewWithOptions(os.Stderr, opts))
		return func() error { return nil }, nil
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("unable to expand log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}

	log.SetDefault(log.NewWithOptions(io.MultiWriter(os.Stderr, f), opts))
	return f.Close, nil
}

// applyLogLevel sets the default logger's level from log.level.
func applyLogLevel() error {
	lvl, err := log.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(lvl)
	return nil
}
