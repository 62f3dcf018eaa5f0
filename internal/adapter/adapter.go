// Package adapter defines the capability contract every content source
// implements, plus the registry the orchestrator resolves adapters from.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crosswire-ai/crosswire/internal/model"
)

// RawContentItem is a normalized record produced by an adapter before
// persistence. The orchestrator owns ids, timestamps, and dedup; the
// adapter owns mapping from provider records.
type RawContentItem struct {
	Type       model.ContentType
	ExternalID string

	Title       string
	Content     string
	RichContent string

	AuthorExternalID string
	AuthorName       string

	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time

	Metadata model.Metadata
	Tags     []string

	Participants []Participant
	Chunks       []RawChunk
}

// Participant is an involvement record extracted alongside an item.
type Participant struct {
	Role       model.ParticipantRole
	ExternalID string
	Name       string
	Email      string
}

// RawChunk is a pre-segmented span, used by time-coded sources.
type RawChunk struct {
	Index       int
	Content     string
	StartOffset int
	EndOffset   int
	StartSecond *float64
	EndSecond   *float64
}

// FetchOptions carries the resume position for one fetch page.
type FetchOptions struct {
	// Cursor is the opaque token returned by a previous page, empty on
	// the first page of a backfill.
	Cursor string

	// SubCursors holds the last durable position per subresource
	// (Slack channel id, GitHub repo name), loaded from the cursor
	// store. Adapters use them as incremental lower bounds.
	SubCursors map[string]string

	// Since bounds the initial backfill window.
	Since *time.Time

	// PageSize hints the provider page size; adapters clamp to provider
	// limits.
	PageSize int
}

// FetchResult is one page of normalized items.
type FetchResult struct {
	Items      []RawContentItem
	HasMore    bool
	NextCursor string

	// SubCursorUpdates are new durable positions per subresource,
	// persisted by the orchestrator after the page's upserts land.
	SubCursorUpdates map[string]string

	// SubMeta carries per-subresource details learned during the fetch,
	// merged into the cursor row's metadata on first write.
	SubMeta map[string]map[string]string
}

// SourceAdapter is the pluggable per-provider capability set.
type SourceAdapter interface {
	Type() model.SourceType

	// ValidateCredentials probes the provider with the source's
	// credentials. It reports validity and never errors; transport
	// failures count as invalid.
	ValidateCredentials(ctx context.Context, src *model.ContentSource, creds model.Credentials) bool

	// FetchContent returns one page of items starting at opts.Cursor.
	FetchContent(ctx context.Context, src *model.ContentSource, creds model.Credentials, opts FetchOptions) (*FetchResult, error)

	// FetchItem re-fetches a single item by its external id, for webhook
	// driven refresh.
	FetchItem(ctx context.Context, src *model.ContentSource, creds model.Credentials, externalID string) (*RawContentItem, error)

	// RefreshAuth exchanges a refresh token for new credentials.
	// Adapters without refreshable auth return ErrAuthNotRefreshable.
	RefreshAuth(ctx context.Context, src *model.ContentSource, creds model.Credentials) (model.Credentials, error)
}

// ErrAuthNotRefreshable marks providers whose tokens cannot be renewed
// programmatically.
var ErrAuthNotRefreshable = errors.New("adapter: auth not refreshable")

// ErrItemNotFound is returned by FetchItem when the provider no longer
// has the record.
var ErrItemNotFound = errors.New("adapter: item not found")

// AuthError is a systemic credential failure. The orchestrator aborts
// the run and flags the source for re-auth.
type AuthError struct {
	Source model.SourceType
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("adapter: %s auth failed: %s", e.Source, e.Reason)
}

// Registry resolves adapters by source type. It is populated once at
// startup; no global state.
type Registry struct {
	adapters map[model.SourceType]SourceAdapter
}

// NewRegistry indexes the given adapters by type. Duplicate types panic
// at startup rather than shadowing silently.
func NewRegistry(adapters ...SourceAdapter) *Registry {
	r := &Registry{adapters: make(map[model.SourceType]SourceAdapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Type()]; dup {
			panic(fmt.Sprintf("adapter: duplicate registration for %s", a.Type()))
		}
		r.adapters[a.Type()] = a
	}
	return r
}

// Get returns the adapter for a source type.
func (r *Registry) Get(t model.SourceType) (SourceAdapter, error) {
	a, ok := r.adapters[t]
	if !ok {
		return nil, fmt.Errorf("adapter: no adapter for source type %q", t)
	}
	return a, nil
}

// Types lists the registered source types.
func (r *Registry) Types() []model.SourceType {
	out := make([]model.SourceType, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}
