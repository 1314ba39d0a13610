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

// Package schedule decides when sync passes may run and drives the
// long-running loop.
package schedule

import (
	"fmt"
	"time"
)

// Gate defaults: passes run between 07:00 and 22:00 Mountain time.
const (
	DefaultTimezone  = "America/Denver"
	DefaultStartHour = 7
	DefaultEndHour   = 22
)

// Gate restricts passes to [StartHour, EndHour) in Location.
type Gate struct {
	Location  *time.Location
	StartHour int
	EndHour   int
}

// NewGate loads tz and validates the hours.
func NewGate(tz string, startHour, endHour int) (Gate, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Gate{}, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	if startHour < 0 || endHour > 24 || startHour >= endHour {
		return Gate{}, fmt.Errorf("invalid allowed hours %d-%d", startHour, endHour)
	}
	return Gate{Location: loc, StartHour: startHour, EndHour: endHour}, nil
}

// DefaultGate returns the 07:00-22:00 America/Denver gate.
func DefaultGate() (Gate, error) {
	return NewGate(DefaultTimezone, DefaultStartHour, DefaultEndHour)
}

func (g Gate) local(now time.Time) time.Time {
	if g.Location == nil {
		return now
	}
	return now.In(g.Location)
}

// Allowed reports whether now falls inside the gate.
func (g Gate) Allowed(now time.Time) bool {
	h := g.local(now).Hour()
	return h >= g.StartHour && h < g.EndHour
}

// UntilNextStart is the time from now until the next StartHour: today's if
// it has not been reached yet, tomorrow's otherwise.
func (g Gate) UntilNextStart(now time.Time) time.Duration {
	local := g.local(now)
	y, m, d := local.Date()
	start := time.Date(y, m, d, g.StartHour, 0, 0, 0, local.Location())
	if !local.Before(start) {
		start = time.Date(y, m, d+1, g.StartHour, 0, 0, 0, local.Location())
	}
	return start.Sub(local)
}
