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

package logctx

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	ctx = WithRunID(ctx, "run-1")
	ctx = WithReport(ctx, "rent_roll")
	ctx = WithWindow(ctx, "as_of_to=01/02/2024")

	if got := RunID(ctx); got != "run-1" {
		t.Errorf("RunID() = %q, want %q", got, "run-1")
	}
	if got := Report(ctx); got != "rent_roll" {
		t.Errorf("Report() = %q, want %q", got, "rent_roll")
	}
	if got := Window(ctx); got != "as_of_to=01/02/2024" {
		t.Errorf("Window() = %q", got)
	}
}

func TestAccessors_Empty(t *testing.T) {
	ctx := context.Background()
	if RunID(ctx) != "" || Report(ctx) != "" || Window(ctx) != "" {
		t.Error("expected empty values on a bare context")
	}
}

func TestValues_Order(t *testing.T) {
	ctx := WithAttempt(context.Background(), 2)
	ctx = WithReport(ctx, "general_ledger")
	ctx = WithRunID(ctx, "run-9")

	got := Values(ctx)
	want := []any{"run_id", "run-9", "report", "general_ledger", "attempt", "2"}
	if len(got) != len(want) {
		t.Fatalf("Values() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Values()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestValues_SkipsEmpty(t *testing.T) {
	ctx := WithReport(context.Background(), "")
	if got := Values(ctx); len(got) != 0 {
		t.Errorf("Values() = %v, want none", got)
	}
}

func TestLoggerWithContext(t *testing.T) {
	base := logr.Discard()
	if got := LoggerWithContext(base, context.Background()); got != base {
		t.Error("expected unchanged logger without context values")
	}
	_ = LoggerWithContext(base, WithRunID(context.Background(), "r"))
}

func TestSugared(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core).Sugar()

	ctx := WithHook(WithRunID(context.Background(), "run-3"), "tableau")
	Sugared(base, ctx).Info("hook done")

	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["run_id"] != "run-3" || fields["hook"] != "tableau" {
		t.Errorf("unexpected fields %v", fields)
	}

	if Sugared(base, context.Background()) != base {
		t.Error("expected unchanged logger without context values")
	}
}
