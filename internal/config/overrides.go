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

package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/altairalabs/reportsync/internal/reports"
)

// ReportOverride adjusts one built-in report definition. Unset fields keep
// the built-in value.
type ReportOverride struct {
	Disabled    *bool              `json:"disabled,omitempty"`
	Endpoint    string             `json:"endpoint,omitempty"`
	Table       string             `json:"table,omitempty"`
	LoadMethod  reports.LoadMethod `json:"loadMethod,omitempty"`
	BatchSize   int                `json:"batchSize,omitempty"`
	Concurrency *int               `json:"concurrency,omitempty"`
	// Filters are merged over the built-in filters. An empty value removes
	// the filter.
	Filters map[string]string `json:"filters,omitempty"`
	// Start moves the first day of a backfill, as YYYY-MM-DD.
	Start string `json:"start,omitempty"`
}

// Overrides is the format of the report overrides file.
type Overrides struct {
	Reports map[string]ReportOverride `json:"reports"`
}

// LoadOverrides reads and parses a report overrides YAML file.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading report overrides: %w", ErrConfig, err)
	}
	var o Overrides
	if err := yaml.UnmarshalStrict(data, &o); err != nil {
		return nil, fmt.Errorf("%w: parsing report overrides: %w", ErrConfig, err)
	}
	return &o, nil
}

// Apply returns defs with the overrides applied, in their original order.
// Naming a report that is not in defs is an error.
func (o *Overrides) Apply(defs []reports.Definition) ([]reports.Definition, error) {
	out := slices.Clone(defs)
	if o == nil {
		return out, nil
	}
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Name] = i
	}
	for _, name := range slices.Sorted(maps.Keys(o.Reports)) {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("%w: override for unknown report %q", ErrConfig, name)
		}
		d, err := o.Reports[name].apply(out[i])
		if err != nil {
			return nil, fmt.Errorf("%w: report %s: %w", ErrConfig, name, err)
		}
		out[i] = d
	}
	return out, nil
}

func (r ReportOverride) apply(d reports.Definition) (reports.Definition, error) {
	if r.Disabled != nil {
		d.Disabled = *r.Disabled
	}
	if r.Endpoint != "" {
		d.Endpoint = r.Endpoint
	}
	if r.Table != "" {
		d.Table = r.Table
	}
	if r.LoadMethod != "" {
		d.LoadMethod = r.LoadMethod
	}
	if r.BatchSize > 0 {
		d.BatchSize = r.BatchSize
	}
	if r.Concurrency != nil {
		d.Concurrency = *r.Concurrency
	}
	if len(r.Filters) > 0 {
		filters := maps.Clone(d.Filters)
		if filters == nil {
			filters = make(map[string]string, len(r.Filters))
		}
		for k, v := range r.Filters {
			if v == "" {
				delete(filters, k)
				continue
			}
			filters[k] = v
		}
		d.Filters = filters
	}
	if r.Start != "" {
		start, err := time.Parse(time.DateOnly, r.Start)
		if err != nil {
			return d, fmt.Errorf("invalid start %q: %w", r.Start, err)
		}
		switch p := d.Params.(type) {
		case reports.MonthRangeParams:
			p.Start = start
			d.Params = p
		case reports.DailySnapshotParams:
			p.Start = start
			d.Params = p
		default:
			return d, fmt.Errorf("start does not apply to %s parameters", d.Normalize().Params.Kind())
		}
	}
	return d, nil
}
