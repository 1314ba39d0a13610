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
	"net/url"
	"strings"
	"time"
)

// Filter is one query parameter sent to the report endpoint.
type Filter struct {
	Key   string
	Value string
}

// QueryWindow is one upstream query: ordered filters plus the dates the
// filters were derived from.
type QueryWindow struct {
	Filters []Filter
	// Range is set for windows that cover a span of days.
	Range *DateRange
	// AsOf is set for single-day snapshot windows.
	AsOf time.Time
}

// Values converts the filters to URL query values.
func (w QueryWindow) Values() url.Values {
	v := make(url.Values, len(w.Filters))
	for _, f := range w.Filters {
		v.Add(f.Key, f.Value)
	}
	return v
}

// Date returns the date a window represents: the snapshot day, or the end
// of its range. It is false for undated windows.
func (w QueryWindow) Date() (time.Time, bool) {
	if !w.AsOf.IsZero() {
		return w.AsOf, true
	}
	if w.Range != nil {
		return w.Range.To, true
	}
	return time.Time{}, false
}

// String renders filters as k=v pairs for logs.
func (w QueryWindow) String() string {
	parts := make([]string, 0, len(w.Filters))
	for _, f := range w.Filters {
		parts = append(parts, f.Key+"="+f.Value)
	}
	return strings.Join(parts, "&")
}
