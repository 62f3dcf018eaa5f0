package model

import "time"

// SyncCursor is the durable, resumable position of a sync loop for one
// (source, subresource) pair. Subresource keys are source-defined: a
// Slack channel id, a GitHub owner/repo name, a Notion workspace, the
// literal "default" for single-stream sources.
type SyncCursor struct {
	SourceID       string
	SubresourceKey string

	// Cursor is the opaque, source-defined pagination token.
	Cursor string

	LastSyncedAt *time.Time
	ItemsSynced  int
	LastError    string

	// Meta carries per-subresource details inferred on first write,
	// e.g. Slack channel type.
	Meta map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CursorUpdate is a partial update merged into a cursor record by the
// store's upsert. Nil fields are left untouched.
type CursorUpdate struct {
	Cursor       *string
	LastSyncedAt *time.Time
	ItemsDelta   int
	LastError    *string
	Meta         map[string]string
}
