package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/itineradb/itinera/pkg/errcode"
)

// Participant drives 2PC verbs against arbitrary participant endpoints.
// The transaction manager holds a single Participant and addresses each
// enlisted resource manager by its endpoint URL.
type Participant struct {
	httpClient *http.Client
}

// NewParticipant creates a participant client.
func NewParticipant(cfg *Config) *Participant {
	return &Participant{httpClient: newHTTPClient(cfg)}
}

func (p *Participant) txnURL(endpoint, verb, xid string) string {
	return strings.TrimRight(endpoint, "/") + "/txn/" + verb + "?xid=" + url.QueryEscape(xid)
}

// Prepare runs phase one at endpoint. A structured no-vote is returned
// as an *errcode.Error.
func (p *Participant) Prepare(ctx context.Context, endpoint, xid string) error {
	var resp struct {
		OK  bool   `json:"ok"`
		Err string `json:"err,omitempty"`
	}
	if err := doJSON(ctx, p.httpClient, http.MethodPost, p.txnURL(endpoint, "prepare", xid), xid, nil, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return errcode.FromWire(resp.Err, "", "prepare voted no")
	}
	return nil
}

// Commit runs phase two at endpoint. Idempotent at the participant.
func (p *Participant) Commit(ctx context.Context, endpoint, xid string) error {
	return doJSON(ctx, p.httpClient, http.MethodPost, p.txnURL(endpoint, "commit", xid), xid, nil, nil)
}

// Abort rolls xid back at endpoint. Idempotent at the participant.
func (p *Participant) Abort(ctx context.Context, endpoint, xid string) error {
	return doJSON(ctx, p.httpClient, http.MethodPost, p.txnURL(endpoint, "abort", xid), xid, nil, nil)
}
