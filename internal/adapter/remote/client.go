// Package remote is a client of the admin API served by httpapi.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"litedb/internal/adapter/httpapi"
	"litedb/internal/platform/httpclient"
	"litedb/internal/platform/sqlite"
	"litedb/internal/shared"
)

// APIError is a failed response of the admin API.
type APIError struct {
	StatusCode int
	Kind       shared.Kind
	Message    string
	Suggestion string
}

func (e *APIError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (status %d, did you mean %q?)", e.Message, e.StatusCode, e.Suggestion)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Unwrap exposes the sentinel of the error kind so shared.Is* predicates work.
func (e *APIError) Unwrap() error {
	return shared.SentinelOf(e.Kind)
}

// Client talks to a running litedb server.
type Client struct {
	base *url.URL
	http *httpclient.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string, hc *httpclient.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}
	if hc == nil {
		hc = httpclient.New()
	}
	return &Client{base: u, http: hc}, nil
}

// Health returns the server health report. With quick the server also runs
// an integrity check. An unavailable database comes back as a KindBusy error.
func (c *Client) Health(ctx context.Context, quick bool) (httpapi.HealthResponse, error) {
	var out httpapi.HealthResponse
	path := "/healthz"
	if quick {
		path += "?check=quick"
	}
	resp, err := c.get(ctx, path)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode health: %w", err)
	}
	return out, nil
}

// Tables lists user tables of the served database.
func (c *Client) Tables(ctx context.Context) ([]string, error) {
	var out httpapi.TablesResponse
	if err := c.getJSON(ctx, "/tables", &out); err != nil {
		return nil, err
	}
	return out.Tables, nil
}

// Inspect returns column descriptions of table.
func (c *Client) Inspect(ctx context.Context, table string) ([]sqlite.ColumnInfo, error) {
	var out httpapi.TableResponse
	if err := c.getJSON(ctx, "/tables/"+url.PathEscape(table), &out); err != nil {
		return nil, err
	}
	return out.Columns, nil
}

// Dump streams the SQL text dump to w.
func (c *Client) Dump(ctx context.Context, w io.Writer) error {
	resp, err := c.get(ctx, "/dump")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := apiError(resp); err != nil {
		return err
	}
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := apiError(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	u := *c.base
	u.Path = c.base.Path + ref.Path
	u.RawPath = ""
	if ref.RawPath != "" {
		u.RawPath = c.base.Path + ref.RawPath
	}
	u.RawQuery = ref.RawQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusServiceUnavailable {
			return nil, shared.MarkKind(err, shared.KindBusy)
		}
		return nil, err
	}
	return resp, nil
}

func apiError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}
	var body httpapi.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Kind:       shared.ParseKind(body.Kind),
		Message:    body.Error,
		Suggestion: body.Suggestion,
	}
}
