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
	"fmt"
	"time"
)

// Report names in the built-in catalog.
const (
	GeneralLedger   = "general_ledger"
	RentRoll        = "rent_roll"
	PropertyBudget  = "property_budget"
	IncomeStatement = "income_statement"
	TenantTickler   = "tenant_tickler"
	UnitVacancy     = "unit_vacancy"
	AgedReceivables = "aged_receivables"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DefaultCatalog returns the reports synchronized out of the box, in the
// order they are processed.
func DefaultCatalog() []Definition {
	defs := []Definition{
		{
			Name:       GeneralLedger,
			InsertMode: UpsertByDateWindow,
			LoadMethod: BulkInsert,
			Filters: map[string]string{
				"property_visibility": "all",
				"project_visibility":  "all",
				"accounting_basis":    "accrual",
			},
			Params: MonthRangeParams{
				FromField:      "posted_on_from",
				ToField:        "posted_on_to",
				Start:          date(2024, time.January, 1),
				ChunkMonths:    3,
				LookbackMonths: 3,
			},
			Upsert:      &UpsertSpec{DateField: "posted_on", DateFormat: USDate},
			Paginated:   true,
			Concurrency: MaxConcurrency,
		},
		{
			Name:       RentRoll,
			InsertMode: UpsertByDateWindow,
			LoadMethod: BulkInsert,
			Filters: map[string]string{
				"unit_visibility":     "all",
				"property_visibility": "all",
				"non_revenue_units":   "1",
			},
			Params: DailySnapshotParams{
				DateField: "as_of_to",
				Start:     date(2023, time.January, 1),
			},
			Upsert:    &UpsertSpec{DateField: "as_of_date", DateFormat: USDate},
			Paginated: true,
		},
		{
			Name:       PropertyBudget,
			InsertMode: Replace,
			LoadMethod: BatchInsert,
			Filters: map[string]string{
				"period_from":         "Jan 2024",
				"period_to":           "Dec 2025",
				"property_visibility": "all",
			},
			Paginated: true,
		},
		{
			Name:       IncomeStatement,
			InsertMode: Replace,
			LoadMethod: BatchInsert,
			Filters: map[string]string{
				"property_visibility":              "all",
				"accounting_basis":                 "Accrual",
				"level_of_detail":                  "detail_view",
				"include_zero_balance_gl_accounts": "1",
			},
			Params:    MonthEndParams{ToField: "posted_on_to", Format: YearMonth, EndOfYear: true},
			Paginated: true,
		},
		{
			Name:       TenantTickler,
			InsertMode: Replace,
			LoadMethod: BatchInsert,
			Filters: map[string]string{
				"property_visibility": "all",
			},
			Params: MonthRangeParams{
				FromField:   "occurred_on_from",
				ToField:     "occurred_on_to",
				Start:       date(2024, time.January, 1),
				ChunkMonths: 12,
			},
			Paginated: true,
		},
		{
			Name:       UnitVacancy,
			InsertMode: AppendOnly,
			LoadMethod: BatchInsert,
			Filters: map[string]string{
				"unit_visibility":     "all",
				"property_visibility": "all",
			},
			Paginated: true,
		},
		{
			Name:       AgedReceivables,
			InsertMode: Replace,
			LoadMethod: BatchInsert,
			Filters: map[string]string{
				"property_visibility": "all",
			},
			Params:    MonthEndParams{ToField: "occurred_on_to", Format: USDate},
			Paginated: false,
		},
	}
	for i := range defs {
		defs[i] = defs[i].Normalize()
	}
	return defs
}

// Catalog is an ordered, name-indexed set of report definitions.
type Catalog struct {
	defs  []Definition
	index map[string]int
}

// NewCatalog validates defs and indexes them by name.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(defs))}
	for _, d := range defs {
		d = d.Normalize()
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[d.Name]; dup {
			return nil, fmt.Errorf("duplicate report %q", d.Name)
		}
		c.index[d.Name] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// All returns every definition in processing order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Enabled returns definitions that are not disabled, in processing order.
func (c *Catalog) Enabled() []Definition {
	out := make([]Definition, 0, len(c.defs))
	for _, d := range c.defs {
		if !d.Disabled {
			out = append(out, d)
		}
	}
	return out
}

// Get looks a definition up by report name.
func (c *Catalog) Get(name string) (Definition, bool) {
	i, ok := c.index[name]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Names returns report names in processing order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.defs))
	for i, d := range c.defs {
		names[i] = d.Name
	}
	return names
}
