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

package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/reportsync/internal/pipeline"
)

func denver(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(DefaultTimezone)
	require.NoError(t, err)
	return loc
}

func TestNewGate(t *testing.T) {
	_, err := NewGate("Mars/Olympus", 7, 22)
	assert.Error(t, err)
	_, err = NewGate("UTC", 22, 7)
	assert.Error(t, err)
	_, err = NewGate("UTC", -1, 7)
	assert.Error(t, err)

	g, err := DefaultGate()
	require.NoError(t, err)
	assert.Equal(t, 7, g.StartHour)
	assert.Equal(t, 22, g.EndHour)
}

func TestGate_Allowed(t *testing.T) {
	loc := denver(t)
	g := Gate{Location: loc, StartHour: 7, EndHour: 22}

	tests := []struct {
		hour, minute int
		want         bool
	}{
		{6, 59, false},
		{7, 0, true},
		{12, 30, true},
		{21, 59, true},
		{22, 0, false},
		{23, 30, false},
		{0, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%02d:%02d", tt.hour, tt.minute), func(t *testing.T) {
			now := time.Date(2024, time.June, 3, tt.hour, tt.minute, 0, 0, loc)
			assert.Equal(t, tt.want, g.Allowed(now))
		})
	}
}

func TestGate_AllowedConvertsTimezone(t *testing.T) {
	g := Gate{Location: denver(t), StartHour: 7, EndHour: 22}
	// 12:00 UTC is 06:00 MDT.
	assert.False(t, g.Allowed(time.Date(2024, time.June, 3, 12, 0, 0, 0, time.UTC)))
	assert.True(t, g.Allowed(time.Date(2024, time.June, 3, 13, 0, 0, 0, time.UTC)))
}

func TestGate_UntilNextStart(t *testing.T) {
	loc := denver(t)
	g := Gate{Location: loc, StartHour: 7, EndHour: 22}

	assert.Equal(t, 90*time.Minute, g.UntilNextStart(time.Date(2024, time.June, 3, 5, 30, 0, 0, loc)))
	assert.Equal(t, 8*time.Hour, g.UntilNextStart(time.Date(2024, time.June, 3, 23, 0, 0, 0, loc)))
	assert.Equal(t, 24*time.Hour, g.UntilNextStart(time.Date(2024, time.June, 3, 7, 0, 0, 0, loc)))
	// Spring forward: the night of 2024-03-09 is one hour shorter.
	assert.Equal(t, 7*time.Hour, g.UntilNextStart(time.Date(2024, time.March, 9, 23, 0, 0, 0, loc)))
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule(DefaultSchedule)
	require.NoError(t, err)
	from := time.Date(2024, time.June, 3, 9, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, time.June, 3, 10, 0, 0, 0, time.UTC), s.Next(from))

	_, err = ParseSchedule("every hour")
	assert.Error(t, err)
}

// fakeClock advances when the loop sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) bool {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err() == nil
}

func newTestLoop(t *testing.T, clock *fakeClock, pass PassFunc) *Loop {
	t.Helper()
	g := Gate{Location: clock.now.Location(), StartHour: 7, EndHour: 22}
	tick, err := ParseSchedule(DefaultSchedule)
	require.NoError(t, err)
	return NewLoop(g, tick, pass, WithClock(clock.Now), WithSleep(clock.Sleep))
}

func TestLoop_WaitsForGateThenRunsHourly(t *testing.T) {
	loc := denver(t)
	clock := &fakeClock{now: time.Date(2024, time.June, 3, 5, 0, 0, 0, loc)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs []time.Time
	loop := newTestLoop(t, clock, func(context.Context) error {
		runs = append(runs, clock.now)
		clock.now = clock.now.Add(20 * time.Minute)
		if len(runs) == 3 {
			cancel()
		}
		return nil
	})

	require.NoError(t, loop.Run(ctx))

	require.Len(t, runs, 3)
	assert.Equal(t, 7, runs[0].Hour())
	assert.Equal(t, 8, runs[1].Hour())
	assert.Equal(t, 9, runs[2].Hour())
	assert.Equal(t, []time.Duration{2 * time.Hour, 40 * time.Minute, 40 * time.Minute, 40 * time.Minute}, clock.sleeps)
}

func TestLoop_StopsOnFatal(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.June, 3, 9, 0, 0, 0, denver(t))}
	loop := newTestLoop(t, clock, func(context.Context) error {
		return fmt.Errorf("%w: connect warehouse: timeout", pipeline.ErrFatal)
	})

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrFatal)
}

func TestLoop_ContinuesAfterPassError(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.June, 3, 9, 0, 0, 0, denver(t))}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	loop := newTestLoop(t, clock, func(context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("report failed")
	})

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, 2, calls)
}

func TestLoop_CancelledWhileClosed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, time.June, 3, 23, 0, 0, 0, denver(t))}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := newTestLoop(t, clock, func(context.Context) error {
		t.Fatal("pass must not run")
		return nil
	})
	require.NoError(t, loop.Run(ctx))
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
	assert.False(t, sleepCtx(ctx, 0))
}
