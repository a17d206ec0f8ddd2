// Package source defines the five operations the sync processor consumes
// from the remote collaboration platform (the Source). The HTTP handshake
// endpoint, subscription registration/renewal, and credential loading are
// out of scope here. They are named as an external collaborator whose
// wire dialect this repository does not own. What's in scope is the
// interface C6 depends on, so the orchestrator can be built and tested
// against a fake without ever dialing a real endpoint.
package source

import (
	"context"
	"io"
	"time"
)

// ListItemFields is the subset of a list item's fields the processor
// inspects.
type ListItemFields struct {
	ProcessFlag string
}

// DriveItem is the subset of a drive item's metadata the processor
// inspects.
type DriveItem struct {
	ID         string
	Name       string
	ParentPath string
	DriveID    string
}

// ErrResyncRequired is returned by PullItemsDelta when the Source reports
// the cursor is no longer valid and a windowed resync is required.
var ErrResyncRequired = resyncRequiredError{}

type resyncRequiredError struct{}

func (resyncRequiredError) Error() string { return "source: resync required, cursor expired" }

// Client is the Source API surface the sync processor calls. A production
// implementation dials the real collaboration platform; tests use a fake
// that returns fixed sequences, matching the "result+error values instead
// of exceptions for control flow" redesign. ErrResyncRequired is a
// sentinel the caller checks with errors.Is, not a panic.
type Client interface {
	// PullItemsDelta requests changes since cursor for (site, list). An
	// empty cursor means "give me a fresh starting cursor with zero
	// items", matching the first-ever-run semantics: no prior
	// ProcessingLog row is equivalent to a fresh cursor pull.
	PullItemsDelta(ctx context.Context, site, list, cursor string) (newCursor string, itemIDs []string, err error)

	// PullItemsModifiedSince is the windowed-resync fallback used after
	// ErrResyncRequired: list every item touched at or after since.
	PullItemsModifiedSince(ctx context.Context, site, list string, since time.Time) ([]string, error)

	GetListItem(ctx context.Context, site, list, item string) (ListItemFields, error)
	GetDriveItem(ctx context.Context, site, list, item string) (DriveItem, error)

	// Download streams the raw bytes of a drive item's content. Callers
	// buffer it fully before hashing and decoding, matching spec's
	// "buffer fully; compute (hash,size)" ordering.
	Download(ctx context.Context, driveID, itemID string) (io.ReadCloser, error)
}
