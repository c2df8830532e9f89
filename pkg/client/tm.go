package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TMClient talks to the transaction manager.
type TMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTMClient creates a client for the TM at baseURL.
func NewTMClient(baseURL string, cfg *Config) *TMClient {
	return &TMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(cfg),
	}
}

// BaseURL returns the TM's base URL.
func (c *TMClient) BaseURL() string { return c.baseURL }

// TxnStatus is the wire shape of a transaction status response.
type TxnStatus struct {
	Xid     string `json:"xid"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Start allocates a new global transaction.
func (c *TMClient) Start(ctx context.Context) (string, error) {
	var resp TxnStatus
	if err := doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/txn/start", "", nil, &resp); err != nil {
		return "", err
	}
	return resp.Xid, nil
}

// Commit asks the TM to commit xid and returns the resulting status
// (COMMITTED, ABORTED or IN_DOUBT).
func (c *TMClient) Commit(ctx context.Context, xid string) (string, error) {
	var resp TxnStatus
	u := c.baseURL + "/txn/commit?xid=" + url.QueryEscape(xid)
	if err := doJSON(ctx, c.httpClient, http.MethodPost, u, xid, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Abort asks the TM to abort xid. Idempotent.
func (c *TMClient) Abort(ctx context.Context, xid string) (string, error) {
	var resp TxnStatus
	u := c.baseURL + "/txn/abort?xid=" + url.QueryEscape(xid)
	if err := doJSON(ctx, c.httpClient, http.MethodPost, u, xid, nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Enlist registers a participant endpoint under xid. Resource managers
// call this on the first mutation of a transaction.
func (c *TMClient) Enlist(ctx context.Context, xid, endpoint string) error {
	body := map[string]any{"endpoint": endpoint}
	u := c.baseURL + "/txn/enlist?xid=" + url.QueryEscape(xid)
	return doJSON(ctx, c.httpClient, http.MethodPost, u, xid, body, nil)
}

// Status fetches the TM's record for xid.
func (c *TMClient) Status(ctx context.Context, xid string) (string, error) {
	var resp TxnStatus
	if err := doJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/txn/"+url.PathEscape(xid), "", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Health probes the TM.
func (c *TMClient) Health(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return doJSON(hctx, c.httpClient, http.MethodGet, c.baseURL+"/health", "", nil, nil)
}

// Close releases idle connections.
func (c *TMClient) Close() {
	c.httpClient.CloseIdleConnections()
}
