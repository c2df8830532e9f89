package rm

import "context"

// PageIO moves whole pages between the committed pool and the backend
// store. Implementations must make PageOut atomic per call: every record
// in the page is upserted and every key in the page's domain that is
// absent from the page is deleted, or nothing changes. Retriable backend
// failures are surfaced to the caller; Commit is idempotent under
// version monotonicity, so retrying it is safe.
type PageIO interface {
	// PageIn returns all committed records whose routing property
	// matches pageID.
	PageIn(ctx context.Context, pageID string) (*Page, error)
	// PageOut atomically persists the page.
	PageOut(ctx context.Context, pageID string, page *Page) error
}
