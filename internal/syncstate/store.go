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

// Package syncstate persists, per report, whether the historical backfill
// has completed and which date bounds the last successful run covered.
package syncstate

import (
	"context"
	"errors"
	"time"
)

// ErrCorrupt is reported when persisted state cannot be decoded. Stores
// recover from it by treating every report as a first run.
var ErrCorrupt = errors.New("sync state is corrupt")

// State is the persisted sync progress of one report.
type State struct {
	// IsFirstRun is true until a full backfill has succeeded.
	IsFirstRun bool `json:"isFirstRun"`
	// LastFrom and LastTo are advisory MM/DD/YYYY bounds of the last
	// successful run. They are empty after a first run.
	LastFrom  string    `json:"from,omitempty"`
	LastTo    string    `json:"to,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Default is the state of a report that has never completed.
func Default() State {
	return State{IsFirstRun: true}
}

// Store reads and writes per-report sync state.
type Store interface {
	// Get returns the state for report, or Default when none is stored.
	Get(ctx context.Context, report string) (State, error)
	// Set replaces the state for report.
	Set(ctx context.Context, report string, st State) error
	// Reset forces the next run of report to be a first run.
	Reset(ctx context.Context, report string) error
	// All returns every stored state keyed by report.
	All(ctx context.Context) (map[string]State, error)
	Close() error
}
