// Package store persists sources, content items, and the derived graph.
// The canonical implementation is Postgres with pgvector; an in-memory
// twin backs unit tests and local development.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crosswire-ai/crosswire/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// DatabaseError wraps a driver failure with the operation that hit it.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *DatabaseError) Unwrap() error { return e.Err }

func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, Err: err}
}

// EnrichmentResult carries the AI-derived fields written back to an item
// after a successful enrichment pass.
type EnrichmentResult struct {
	Summary   string
	KeyPoints []string
	Sentiment string
	Embedding []float32
}

// ItemWithRelations bundles an item with its graph context for read
// paths that want one round trip.
type ItemWithRelations struct {
	Item          *model.ContentItem
	Chunks        []*model.ContentChunk
	Participants  []*model.ContentParticipant
	Relationships []*model.ContentRelationship
}

// SourceStore manages connector configurations.
type SourceStore interface {
	CreateSource(ctx context.Context, src *model.ContentSource) error
	GetSource(ctx context.Context, id string) (*model.ContentSource, error)
	ListSources(ctx context.Context, orgID string) ([]*model.ContentSource, error)
	// ListActiveSources returns every source eligible for scheduling,
	// across organizations.
	ListActiveSources(ctx context.Context) ([]*model.ContentSource, error)
	UpdateSourceStatus(ctx context.Context, id string, status model.SyncStatus, errMsg string, lastSyncAt *time.Time) error
	UpdateSourceCredentials(ctx context.Context, id string, encrypted string) error
	DeleteSource(ctx context.Context, id string) error
}

// ItemStore manages normalized content items and their chunks.
type ItemStore interface {
	// UpsertContentItem inserts or updates by (SourceID, ExternalID).
	// On update it never overwrites AI-derived fields (Summary,
	// KeyPoints, Sentiment, Embedding); when source content changed it
	// resets ProcessingStatus to pending. It reports whether a new row
	// was created.
	UpsertContentItem(ctx context.Context, item *model.ContentItem) (created bool, err error)
	GetItem(ctx context.Context, id string) (*model.ContentItem, error)
	GetItemByExternalID(ctx context.Context, sourceID, externalID string) (*model.ContentItem, error)
	GetItemWithRelations(ctx context.Context, id string) (*ItemWithRelations, error)
	ListItemsBySource(ctx context.Context, sourceID string, limit int) ([]*model.ContentItem, error)
	// ListPendingItems returns up to limit items awaiting enrichment,
	// oldest first.
	ListPendingItems(ctx context.Context, limit int) ([]*model.ContentItem, error)
	// ListEmbeddedItems returns items with embeddings for an org, for
	// relationship and cluster sweeps.
	ListEmbeddedItems(ctx context.Context, orgID string) ([]*model.ContentItem, error)
	SetProcessingStatus(ctx context.Context, itemID string, status model.ProcessingStatus) error
	SaveEnrichment(ctx context.Context, itemID string, res EnrichmentResult) error
	DeleteItemsBySource(ctx context.Context, sourceID string) error

	// ReplaceChunks atomically swaps an item's chunk set.
	ReplaceChunks(ctx context.Context, itemID string, chunks []*model.ContentChunk) error
	ListChunks(ctx context.Context, itemID string) ([]*model.ContentChunk, error)
}

// CursorStore persists per-(source, subresource) sync positions.
type CursorStore interface {
	GetCursor(ctx context.Context, sourceID, subresourceKey string) (*model.SyncCursor, error)
	// UpsertCursor merges a partial update into the cursor row, creating
	// it on first write. ItemsDelta accumulates into ItemsSynced.
	UpsertCursor(ctx context.Context, sourceID, subresourceKey string, upd model.CursorUpdate) error
	ListCursors(ctx context.Context, sourceID string) ([]*model.SyncCursor, error)
	DeleteCursors(ctx context.Context, sourceID string) error
}

// GraphStore manages relationships, participants, clusters, and
// expertise.
type GraphStore interface {
	// UpsertRelationship is keyed on (SourceItemID, TargetItemID, Type);
	// re-detection refreshes Confidence instead of duplicating the edge.
	UpsertRelationship(ctx context.Context, rel *model.ContentRelationship) error
	ListRelationships(ctx context.Context, itemID string) ([]*model.ContentRelationship, error)

	UpsertParticipant(ctx context.Context, p *model.ContentParticipant) error
	// ReplaceParticipants swaps an item's participant set; sync uses it
	// so people who left a thread do not linger.
	ReplaceParticipants(ctx context.Context, itemID string, parts []*model.ContentParticipant) error
	ListParticipants(ctx context.Context, itemID string) ([]*model.ContentParticipant, error)

	// ReplaceClusters swaps the full cluster projection for an org. The
	// projection is rebuildable, so sweeps write it wholesale.
	ReplaceClusters(ctx context.Context, orgID string, clusters []*model.TopicCluster, members []*model.TopicClusterMember) error
	ListClusters(ctx context.Context, orgID string) ([]*model.TopicCluster, error)
	ListClusterMembers(ctx context.Context, clusterID string) ([]*model.TopicClusterMember, error)

	UpsertExpertise(ctx context.Context, e *model.TopicExpertise) error
	ListExpertise(ctx context.Context, clusterID string) ([]*model.TopicExpertise, error)
}

// Store is the full persistence surface.
type Store interface {
	SourceStore
	ItemStore
	CursorStore
	GraphStore
}
