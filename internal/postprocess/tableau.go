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

package postprocess

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// Tableau REST API defaults.
const (
	TableauAPIVersion     = "3.14"
	DefaultTableauTimeout = 30 * time.Second
	authHeader            = "X-Tableau-Auth"
	maxErrorBody          = 1024
)

// ErrTableauAuth is returned when sign-in fails or yields no token.
var ErrTableauAuth = errors.New("tableau: sign-in failed")

// TableauConfig identifies the workbook to refresh and the personal access
// token used to sign in.
type TableauConfig struct {
	Server         string
	SiteID         string
	SiteContentURL string
	WorkbookID     string
	PATName        string
	PATSecret      string
}

// Enabled reports whether a server is configured.
func (c TableauConfig) Enabled() bool {
	return c.Server != ""
}

// Validate checks the fields needed once the hook is enabled.
func (c TableauConfig) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"server":      c.Server,
		"workbook id": c.WorkbookID,
		"pat name":    c.PATName,
		"pat secret":  c.PATSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("tableau: missing %s", strings.Join(missing, ", "))
	}
	if _, err := url.Parse(c.Server); err != nil {
		return fmt.Errorf("tableau: invalid server: %w", err)
	}
	return nil
}

// TableauOption configures a Tableau client.
type TableauOption func(*Tableau)

// WithTableauTimeout sets the per-request timeout.
func WithTableauTimeout(d time.Duration) TableauOption {
	return func(t *Tableau) { t.http.HTTPClient.Timeout = d }
}

// WithTableauRetries sets how many times a request is retried on 5xx or
// connection errors.
func WithTableauRetries(n int) TableauOption {
	return func(t *Tableau) { t.http.RetryMax = n }
}

// WithTableauRetryWait bounds the wait between retries.
func WithTableauRetryWait(minWait, maxWait time.Duration) TableauOption {
	return func(t *Tableau) {
		t.http.RetryWaitMin = minWait
		t.http.RetryWaitMax = maxWait
	}
}

// Tableau triggers a workbook extract refresh.
type Tableau struct {
	cfg  TableauConfig
	http *retryablehttp.Client
	log  logr.Logger
}

// NewTableau creates a refresh client.
func NewTableau(cfg TableauConfig, log logr.Logger, opts ...TableauOption) (*Tableau, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Server = strings.TrimRight(cfg.Server, "/")
	log = log.WithName("tableau")

	hc := retryablehttp.NewClient()
	hc.HTTPClient = &http.Client{Timeout: DefaultTableauTimeout}
	hc.RetryMax = 2
	hc.Logger = nil
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	t := &Tableau{cfg: cfg, http: hc, log: log}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name implements pipeline.Hook.
func (t *Tableau) Name() string { return "tableau" }

// Run signs in and requests the refresh.
func (t *Tableau) Run(ctx context.Context) error {
	t.log.Info("starting extract refresh", "workbook", t.cfg.WorkbookID)
	creds, err := t.signIn(ctx)
	if err != nil {
		return err
	}
	site := t.cfg.SiteID
	if site == "" {
		site = creds.Credentials.Site.ID
	}
	if err := t.refresh(ctx, site, creds.Credentials.Token); err != nil {
		return err
	}
	t.log.Info("extract refresh triggered", "workbook", t.cfg.WorkbookID, "site", site)
	return nil
}

type signInRequest struct {
	Credentials signInCredentials `json:"credentials"`
}

type signInCredentials struct {
	PATName   string  `json:"personalAccessTokenName"`
	PATSecret string  `json:"personalAccessTokenSecret"`
	Site      siteRef `json:"site"`
}

type siteRef struct {
	ContentURL string `json:"contentUrl"`
	ID         string `json:"id,omitempty"`
}

type signInResponse struct {
	Credentials struct {
		Token string  `json:"token"`
		Site  siteRef `json:"site"`
	} `json:"credentials"`
}

func (t *Tableau) apiURL(path string) string {
	return t.cfg.Server + "/api/" + TableauAPIVersion + path
}

func (t *Tableau) signIn(ctx context.Context) (*signInResponse, error) {
	body := signInRequest{Credentials: signInCredentials{
		PATName:   t.cfg.PATName,
		PATSecret: t.cfg.PATSecret,
		Site:      siteRef{ContentURL: t.cfg.SiteContentURL},
	}}
	resp, err := t.post(ctx, t.apiURL("/auth/signin"), "", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTableauAuth, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrTableauAuth, readStatus(resp))
	}
	var out signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrTableauAuth, err)
	}
	if out.Credentials.Token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTableauAuth)
	}
	return &out, nil
}

func (t *Tableau) refresh(ctx context.Context, site, token string) error {
	target := t.apiURL("/sites/" + url.PathEscape(site) + "/workbooks/" + url.PathEscape(t.cfg.WorkbookID) + "/refresh")
	resp, err := t.post(ctx, target, token, struct{}{})
	if err != nil {
		return fmt.Errorf("tableau refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("tableau refresh: %s", readStatus(resp))
	}
	return nil
}

func (t *Tableau) post(ctx context.Context, target, token string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(authHeader, token)
	}
	return t.http.Do(req)
}

func readStatus(resp *http.Response) string {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if s := strings.TrimSpace(string(snippet)); s != "" {
		return fmt.Sprintf("status %d: %s", resp.StatusCode, s)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
