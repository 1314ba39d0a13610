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
	"context"
	"iter"
	"maps"
	"net/url"
	"strconv"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/altairalabs/reportsync/internal/reports"
	"github.com/altairalabs/reportsync/pkg/metrics"
)

// Query parameters understood by the reports API.
const (
	paginateParam = "paginate_results"
	pageParam     = "page"
)

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithMetrics records pages and transport failures.
func WithMetrics(m *metrics.SyncMetrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// Fetcher turns report queries into pages.
type Fetcher struct {
	client  *Client
	log     logr.Logger
	metrics *metrics.SyncMetrics
}

// NewFetcher creates a fetcher over client.
func NewFetcher(client *Client, log logr.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{client: client, log: log.WithName("fetcher")}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// fetch issues one request and decodes it. Transport and decode failures are
// logged, counted and turned into an empty terminal page. Only cancellation
// of ctx is returned as an error.
func (f *Fetcher) fetch(ctx context.Context, endpoint, target string, query url.Values, number int) (Page, error) {
	body, err := f.client.Get(ctx, target, query)
	if err == nil {
		var p Page
		if p, err = decodePage(body); err == nil {
			p.Number = number
			f.metrics.RecordPage(endpoint, len(p.Records))
			return p, nil
		}
	}
	if ctx.Err() != nil {
		return Page{}, ctx.Err()
	}
	f.log.Error(err, "page fetch failed, treating as end of results",
		"endpoint", endpoint, "page", number)
	f.metrics.RecordTransportFailure(endpoint)
	return Page{Number: number}, nil
}

// Pages lazily fetches the window page by page, following next_page_url,
// until a page without a continuation. Each step of the sequence issues one
// request. A failed request ends the sequence with an empty page.
func (f *Fetcher) Pages(ctx context.Context, endpoint string, w reports.QueryWindow, paginated bool) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		target := f.client.ReportURL(endpoint)
		query := w.Values()
		if paginated {
			query.Set(paginateParam, "true")
		}

		for number := 1; ; number++ {
			p, err := f.fetch(ctx, endpoint, target, query, number)
			if err != nil {
				yield(Page{}, err)
				return
			}
			if !paginated {
				p.Next = ""
			}
			if !yield(p, nil) || p.Last() {
				return
			}
			target, query = f.client.Resolve(p.Next), nil
		}
	}
}

// PageBatches fetches pages by explicit page number, fanout at a time.
// handle receives each batch in page order; the next batch is requested only
// after handle returns. Fetching stops after the first page that is empty or
// reports no continuation.
func (f *Fetcher) PageBatches(ctx context.Context, endpoint string, w reports.QueryWindow, fanout int, handle func([]Page) error) error {
	if fanout < 1 {
		fanout = 1
	}
	if fanout > reports.MaxConcurrency {
		fanout = reports.MaxConcurrency
	}
	target := f.client.ReportURL(endpoint)
	base := w.Values()
	base.Set(paginateParam, "true")

	for first := 1; ; first += fanout {
		pages := make([]Page, fanout)
		g, gctx := errgroup.WithContext(ctx)
		for i := range fanout {
			number := first + i
			g.Go(func() error {
				query := maps.Clone(base)
				query.Set(pageParam, strconv.Itoa(number))
				p, err := f.fetch(gctx, endpoint, target, query, number)
				pages[i] = p
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		batch, done := untilLast(pages)
		if len(batch) > 0 {
			if err := handle(batch); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// untilLast keeps pages up to and including the first terminal one.
func untilLast(pages []Page) ([]Page, bool) {
	for i, p := range pages {
		if p.Last() || len(p.Records) == 0 {
			return pages[:i+1], true
		}
	}
	return pages, false
}
