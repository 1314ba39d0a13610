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

package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/altairalabs/reportsync/internal/reports"
)

// Page is one upstream response.
type Page struct {
	Records []reports.Record
	// Next is the continuation URL. Empty means no further pages.
	Next string
	// Number is the 1-based position of the page within its window.
	Number int
}

// Last reports whether no page follows this one.
func (p Page) Last() bool {
	return p.Next == ""
}

type pageEnvelope struct {
	Results     []reports.Record `json:"results"`
	NextPageURL *string          `json:"next_page_url"`
}

// decodePage accepts either a bare JSON array of records, which is always
// terminal, or an object carrying results and next_page_url. Numbers keep
// their textual form.
func decodePage(body []byte) (Page, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Page{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	switch trimmed[0] {
	case '[':
		var records []reports.Record
		if err := dec.Decode(&records); err != nil {
			return Page{}, fmt.Errorf("decode result array: %w", err)
		}
		return Page{Records: records}, nil
	case '{':
		var env pageEnvelope
		if err := dec.Decode(&env); err != nil {
			return Page{}, fmt.Errorf("decode result page: %w", err)
		}
		p := Page{Records: env.Results}
		if env.NextPageURL != nil {
			p.Next = *env.NextPageURL
		}
		return p, nil
	case 'n':
		return Page{}, nil
	default:
		return Page{}, fmt.Errorf("unexpected response body starting with %q", trimmed[0])
	}
}
