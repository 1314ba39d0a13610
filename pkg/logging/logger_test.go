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

package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Production(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("default logger should not enable debug level")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Error("default logger should enable info level")
	}
}

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled zapcore.Level
		off     zapcore.Level
	}{
		{level: "debug", enabled: zap.DebugLevel, off: zap.DebugLevel - 1},
		{level: "trace", enabled: zap.DebugLevel, off: zap.DebugLevel - 1},
		{level: "warn", enabled: zap.WarnLevel, off: zap.InfoLevel},
		{level: "ERROR", enabled: zap.ErrorLevel, off: zap.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, err := New(Options{Level: tt.level})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("level %s should enable %v", tt.level, tt.enabled)
			}
			if logger.Core().Enabled(tt.off) {
				t.Errorf("level %s should not enable %v", tt.level, tt.off)
			}
		})
	}
}

func TestNew_Rejects(t *testing.T) {
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "console", "JSON"} {
		if _, err := New(Options{Format: format}); err != nil {
			t.Errorf("format %s: %v", format, err)
		}
	}
}

func TestNewLogger_UsesEnvVar(t *testing.T) {
	t.Setenv(EnvLevel, "debug")

	log, sync, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if sync == nil {
		t.Fatal("expected non-nil sync function")
	}
	defer sync()

	if !log.V(1).Enabled() {
		t.Error("logger should be debug-enabled when LOG_LEVEL=debug")
	}
}

func TestNewLogger_ProductionDefault(t *testing.T) {
	t.Setenv(EnvLevel, "")

	log, sync, err := NewLogger()
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	defer sync()

	if log.V(1).Enabled() {
		t.Error("production logger should not enable V(1) debug")
	}
}

func TestLogr(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := Logr(zap.New(core))

	log.Info("fetched page", "endpoint", "rent_roll")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["endpoint"] != "rent_roll" {
		t.Errorf("expected endpoint field, got %v", entry.ContextMap())
	}
}
