/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging builds the zap loggers shared by reportsync binaries.
package logging

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Environment variables read by NewZapLogger.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvFormat = "LOG_FORMAT"
)

// Options select the level and encoding of a logger.
type Options struct {
	// Level is one of debug, trace, info, warn, error. Empty means info.
	Level string
	// Format is json or console. Empty picks console for debug levels and
	// json otherwise.
	Format string
}

// OptionsFromEnv reads LOG_LEVEL and LOG_FORMAT.
func OptionsFromEnv() Options {
	return Options{Level: os.Getenv(EnvLevel), Format: os.Getenv(EnvFormat)}
}

// NewZapLogger creates a *zap.Logger configured from the environment.
func NewZapLogger() (*zap.Logger, error) {
	return New(OptionsFromEnv())
}

// NewLogger creates a logr.Logger backed by zap, configured from the
// environment. Returns the logger and a sync function the caller should defer.
func NewLogger() (logr.Logger, func(), error) {
	zapLog, err := NewZapLogger()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}

// New builds a zap logger from opts.
func New(opts Options) (*zap.Logger, error) {
	level, debug, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(opts.Format) {
	case "":
	case "json":
		cfg.Encoding = "json"
		cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Logr wraps z for components that take a logr.Logger.
func Logr(z *zap.Logger) logr.Logger {
	return zapr.NewLogger(z)
}

func parseLevel(s string) (zapcore.Level, bool, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, false, nil
	case "debug", "trace":
		return zapcore.DebugLevel, true, nil
	}
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return level, false, fmt.Errorf("unknown log level %q", s)
	}
	return level, false, nil
}
