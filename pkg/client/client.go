// Package client provides the HTTP clients the services use to talk to
// each other: workflow controller to RM/TM, transaction manager to its
// participants.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itineradb/itinera/pkg/errcode"
)

// XidHeader carries the transaction context on every outbound call.
// Inbound, services also accept a legacy xid query parameter.
const XidHeader = "X-Transaction-Id"

// Config holds shared client configuration.
type Config struct {
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// MaxIdleConns is the idle connection pool size (default 10).
	MaxIdleConns int
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Timeout:      10 * time.Second,
		MaxIdleConns: 10,
	}
}

func newHTTPClient(cfg *Config) *http.Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 10
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// errorBody is the wire shape of a structured error response.
type errorBody struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Key     string `json:"key,omitempty"`
	Message string `json:"message,omitempty"`
}

// doJSON performs a request, decoding the response into out (when out
// is non-nil) and converting non-2xx structured errors into
// *errcode.Error. Timeouts map to the TIMEOUT code.
func doJSON(ctx context.Context, hc *http.Client, method, url, xid string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if xid != "" {
		req.Header.Set(XidHeader, xid)
	}

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return errcode.New(errcode.Timeout, "", err.Error())
		}
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, url, err)
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			return errcode.FromWire(eb.Error, eb.Key, eb.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, url, err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
