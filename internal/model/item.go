package model

import "time"

// ContentType classifies a unified content atom.
type ContentType string

const (
	TypeMessage    ContentType = "message"
	TypeThread     ContentType = "thread"
	TypeDocument   ContentType = "document"
	TypeIssue      ContentType = "issue"
	TypePullReq    ContentType = "pull_request"
	TypeVideo      ContentType = "video"
	TypeComment    ContentType = "comment"
	TypeFile       ContentType = "file"
	TypeDiscussion ContentType = "discussion"
)

// ProcessingStatus tracks the AI enrichment pipeline state of an item.
type ProcessingStatus string

const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingRunning   ProcessingStatus = "processing"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingFailed    ProcessingStatus = "failed"
	ProcessingSkipped   ProcessingStatus = "skipped"
)

// ContentItem is the unified content atom after normalization from any
// source. The pair (SourceID, ExternalID) is globally unique and is the
// dedup key for idempotent ingestion.
type ContentItem struct {
	ID             string
	OrganizationID string
	SourceID       string
	Type           ContentType

	// ExternalID is the record's id in the source system.
	ExternalID string

	Title       string
	Content     string
	RichContent string

	// AuthorUserID is set when the external author resolves to an
	// internal user; otherwise AuthorExternalID/AuthorName carry the
	// external identity.
	AuthorUserID     string
	AuthorExternalID string
	AuthorName       string

	SourceCreatedAt *time.Time
	SourceUpdatedAt *time.Time

	// Metadata is the source-specific tagged union, serialized opaquely.
	Metadata Metadata

	Tags             []string
	ProcessingStatus ProcessingStatus

	// AI-derived fields. Only the enrichment pipeline writes these;
	// raw sync never overwrites them.
	Summary   string
	KeyPoints []string
	Sentiment string
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ContentChunk is a sub-span of a long item's text for semantic search
// granularity. (ContentItemID, ChunkIndex) is unique; offsets are expected
// to be non-overlapping in ascending order.
type ContentChunk struct {
	ID            string
	ContentItemID string
	ChunkIndex    int
	Content       string

	StartOffset int
	EndOffset   int

	// StartSecond/EndSecond are set for time-coded sources (video).
	StartSecond *float64
	EndSecond   *float64

	Embedding []float32
	CreatedAt time.Time
}
