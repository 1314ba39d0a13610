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

package reports

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateFormat names a textual date representation. Layout is the Go
// reference layout, Pattern the equivalent Snowflake TO_DATE pattern.
type DateFormat struct {
	Name    string
	Layout  string
	Pattern string
}

// Known date formats.
var (
	// USDate is the format the AppFolio API expects for date filters.
	USDate    = DateFormat{Name: "us", Layout: "01/02/2006", Pattern: "MM/DD/YYYY"}
	ISODate   = DateFormat{Name: "iso", Layout: "2006-01-02", Pattern: "YYYY-MM-DD"}
	MonthYear = DateFormat{Name: "month_year", Layout: "Jan 2006", Pattern: "MON YYYY"}
	YearMonth = DateFormat{Name: "year_month", Layout: "2006-01", Pattern: "YYYY-MM"}
)

var dateFormats = map[string]DateFormat{
	USDate.Name:    USDate,
	ISODate.Name:   ISODate,
	MonthYear.Name: MonthYear,
	YearMonth.Name: YearMonth,
}

// ParseDateFormat resolves a date format by name.
func ParseDateFormat(name string) (DateFormat, error) {
	f, ok := dateFormats[name]
	if !ok {
		return DateFormat{}, fmt.Errorf("unknown date format %q", name)
	}
	return f, nil
}

// Format renders t in this format.
func (f DateFormat) Format(t time.Time) string {
	return t.Format(f.Layout)
}

// Parse reads s in this format as a civil date in UTC.
func (f DateFormat) Parse(s string) (time.Time, error) {
	t, err := time.Parse(f.Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q as %s date: %w", s, f.Name, err)
	}
	return t, nil
}

// IsZero reports whether f is the zero format.
func (f DateFormat) IsZero() bool {
	return f.Layout == ""
}

// MarshalJSON encodes the format by name.
func (f DateFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Name)
}

// UnmarshalJSON decodes a format name.
func (f *DateFormat) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseDateFormat(name)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FirstOfMonth returns the first day of t's month.
func FirstOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// LastOfMonth returns the last day of t's month.
func LastOfMonth(t time.Time) time.Time {
	return FirstOfMonth(t).AddDate(0, 1, -1)
}

// DateRange is an inclusive span of civil dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

// NewDateRange builds a range from two instants, truncating both to days.
func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: Day(from), To: Day(to)}
}

// ParseDateRange parses both ends with format f.
func ParseDateRange(from, to string, f DateFormat) (DateRange, error) {
	start, err := f.Parse(from)
	if err != nil {
		return DateRange{}, err
	}
	end, err := f.Parse(to)
	if err != nil {
		return DateRange{}, err
	}
	r := NewDateRange(start, end)
	if !r.Valid() {
		return DateRange{}, fmt.Errorf("date range %s..%s ends before it starts", from, to)
	}
	return r, nil
}

// IsZero reports whether the range is unset.
func (r DateRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Valid reports whether From is not after To.
func (r DateRange) Valid() bool {
	return !r.From.After(r.To)
}

// Contains reports whether t's day falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.From) && !d.After(r.To)
}

// Days lists every day in the range in order.
func (r DateRange) Days() []time.Time {
	if r.IsZero() || !r.Valid() {
		return nil
	}
	var days []time.Time
	for d := r.From; !d.After(r.To); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Format renders both ends of the range.
func (r DateRange) Format(f DateFormat) (from, to string) {
	return f.Format(r.From), f.Format(r.To)
}

func (r DateRange) String() string {
	from, to := r.Format(USDate)
	return from + ".." + to
}
