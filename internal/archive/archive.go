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

// Package archive keeps the raw upstream pages of each sync run in object
// storage so a load can be audited or replayed without calling AppFolio.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/altairalabs/reportsync/internal/reports"
)

// ContentType of archived pages.
const ContentType = "application/x-ndjson"

// PageRef identifies one fetched page.
type PageRef struct {
	RunID  string
	Report string
	// Date is the run date used to partition keys.
	Date   time.Time
	Window int
	Page   int
}

// Key renders the object key of the page under prefix:
// <prefix><report>/<yyyy-mm-dd>/<run id>/w0001-p0001.json.gz
func (r PageRef) Key(prefix string) string {
	return fmt.Sprintf("%s%s/%s/%s/w%04d-p%04d.json.gz",
		prefix, r.Report, reports.ISODate.Format(r.Date), r.RunID, r.Window, r.Page)
}

// Archiver writes pages to a Bucket as gzipped newline-delimited JSON.
// A nil *Archiver discards everything.
type Archiver struct {
	bucket Bucket
	prefix string
	log    *zap.SugaredLogger
}

// New creates an archiver. A nil bucket yields a nil archiver.
func New(bucket Bucket, prefix string, log *zap.SugaredLogger) *Archiver {
	if bucket == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Archiver{bucket: bucket, prefix: prefix, log: log}
}

// WritePage stores records under ref.
func (a *Archiver) WritePage(ctx context.Context, ref PageRef, records []reports.Record) error {
	if a == nil {
		return nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode archived record: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress archived page: %w", err)
	}
	key := ref.Key(a.prefix)
	if err := a.bucket.Put(ctx, key, buf.Bytes(), ContentType); err != nil {
		return err
	}
	a.log.Debugw("archived page", "key", key, "records", len(records))
	return nil
}

// ReadPage loads an archived page. Numbers keep their textual form.
func (a *Archiver) ReadPage(ctx context.Context, key string) ([]reports.Record, error) {
	if a == nil {
		return nil, ErrNotFound
	}
	data, err := a.bucket.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open archived page %s: %w", key, err)
	}
	defer func() { _ = zr.Close() }()

	dec := json.NewDecoder(zr)
	dec.UseNumber()
	var out []reports.Record
	for {
		var rec reports.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode archived page %s: %w", key, err)
		}
		out = append(out, rec)
	}
}

// Keys lists archived page keys of report.
func (a *Archiver) Keys(ctx context.Context, report string) ([]string, error) {
	if a == nil {
		return nil, nil
	}
	return a.bucket.List(ctx, a.prefix+report+"/")
}

// Prune deletes pages of report archived on days before cutoff and returns
// how many were removed.
func (a *Archiver) Prune(ctx context.Context, report string, cutoff time.Time) (int, error) {
	keys, err := a.Keys(ctx, report)
	if err != nil {
		return 0, err
	}
	limit := reports.Day(cutoff)
	removed := 0
	for _, key := range keys {
		day, ok := a.keyDate(report, key)
		if !ok || !day.Before(limit) {
			continue
		}
		if err := a.bucket.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		a.log.Infow("pruned archived pages", "report", report, "removed", removed, "before", reports.ISODate.Format(limit))
	}
	return removed, nil
}

func (a *Archiver) keyDate(report, key string) (time.Time, bool) {
	rest := strings.TrimPrefix(key, a.prefix+report+"/")
	datePart, _, ok := strings.Cut(rest, "/")
	if !ok {
		return time.Time{}, false
	}
	day, err := reports.ISODate.Parse(datePart)
	return day, err == nil
}

// Close releases the bucket.
func (a *Archiver) Close() error {
	if a == nil {
		return nil
	}
	return a.bucket.Close()
}
