package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/itineradb/itinera/pkg/errcode"
)

// RMClient talks to one resource manager's record and transaction
// endpoints.
type RMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRMClient creates a client for the RM at baseURL.
func NewRMClient(baseURL string, cfg *Config) *RMClient {
	return &RMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(cfg),
	}
}

// BaseURL returns the RM's base URL.
func (c *RMClient) BaseURL() string { return c.baseURL }

// RecordResult is the wire shape of a single record.
type RecordResult struct {
	Key     string         `json:"key"`
	Fields  map[string]any `json:"fields"`
	Version uint64         `json:"version"`
}

type recordResponse struct {
	OK     bool          `json:"ok"`
	Record *RecordResult `json:"record"`
}

type recordsResponse struct {
	OK      bool            `json:"ok"`
	Records []*RecordResult `json:"records"`
}

// Read fetches the record visible to xid.
func (c *RMClient) Read(ctx context.Context, xid, key string) (*RecordResult, error) {
	var resp recordResponse
	u := c.baseURL + "/records/" + url.PathEscape(key)
	if err := doJSON(ctx, c.httpClient, http.MethodGet, u, xid, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Record == nil {
		return nil, errcode.New(errcode.KeyNotFound, key, "")
	}
	return resp.Record, nil
}

// Add inserts a record under xid.
func (c *RMClient) Add(ctx context.Context, xid, key string, fields map[string]any) error {
	body := map[string]any{"xid": xid, "key": key, "value": fields}
	return doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/records", xid, body, nil)
}

// Update merges a patch into the record under xid.
func (c *RMClient) Update(ctx context.Context, xid, key string, updates map[string]any) error {
	body := map[string]any{"xid": xid, "updates": updates}
	u := c.baseURL + "/records/" + url.PathEscape(key)
	return doJSON(ctx, c.httpClient, http.MethodPut, u, xid, body, nil)
}

// Delete removes the record under xid.
func (c *RMClient) Delete(ctx context.Context, xid, key string) error {
	u := c.baseURL + "/records/" + url.PathEscape(key) + "?xid=" + url.QueryEscape(xid)
	return doJSON(ctx, c.httpClient, http.MethodDelete, u, xid, nil, nil)
}

// Scan lists the records of one page visible to xid.
func (c *RMClient) Scan(ctx context.Context, xid, pageID string) ([]*RecordResult, error) {
	var resp recordsResponse
	u := c.baseURL + "/records?page=" + url.QueryEscape(pageID)
	if err := doJSON(ctx, c.httpClient, http.MethodGet, u, xid, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

type voteResponse struct {
	OK  bool   `json:"ok"`
	Err string `json:"err,omitempty"`
}

// Prepare runs phase one against this RM. A structured no-vote comes
// back as an *errcode.Error.
func (c *RMClient) Prepare(ctx context.Context, xid string) error {
	var resp voteResponse
	u := c.baseURL + "/txn/prepare?xid=" + url.QueryEscape(xid)
	if err := doJSON(ctx, c.httpClient, http.MethodPost, u, xid, nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return errcode.FromWire(resp.Err, "", "prepare voted no")
	}
	return nil
}

// Commit runs phase two against this RM. Idempotent.
func (c *RMClient) Commit(ctx context.Context, xid string) error {
	u := c.baseURL + "/txn/commit?xid=" + url.QueryEscape(xid)
	return doJSON(ctx, c.httpClient, http.MethodPost, u, xid, nil, nil)
}

// Abort rolls back xid at this RM. Idempotent.
func (c *RMClient) Abort(ctx context.Context, xid string) error {
	u := c.baseURL + "/txn/abort?xid=" + url.QueryEscape(xid)
	return doJSON(ctx, c.httpClient, http.MethodPost, u, xid, nil, nil)
}

// Health probes the RM.
func (c *RMClient) Health(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return doJSON(hctx, c.httpClient, http.MethodGet, c.baseURL+"/health", "", nil, nil)
}

// Close releases idle connections.
func (c *RMClient) Close() {
	c.httpClient.CloseIdleConnections()
}
