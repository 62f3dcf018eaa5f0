// Package model defines the normalized content graph: sources, items,
// chunks, relationships, participants, and the derived topic aggregates.
package model

import (
	"encoding/json"
	"time"
)

// SourceType identifies the external system a ContentSource connects to.
type SourceType string

const (
	SourceVideo       SourceType = "video"
	SourceSlack       SourceType = "slack"
	SourceNotion      SourceType = "notion"
	SourceGitHub      SourceType = "github"
	SourceGoogleDrive SourceType = "google_drive"
	SourceConfluence  SourceType = "confluence"
	SourceLinear      SourceType = "linear"
)

// SyncStatus is the lifecycle state of a source's sync loop.
type SyncStatus string

const (
	SyncIdle     SyncStatus = "idle"
	SyncSyncing  SyncStatus = "syncing"
	SyncError    SyncStatus = "error"
	SyncDisabled SyncStatus = "disabled"
)

// SourceConfig holds source-specific sync settings. Unused fields are
// ignored by adapters that do not understand them.
type SourceConfig struct {
	// Channels restricts Slack sync to the listed channel IDs. Empty means
	// all channels the bot is a member of.
	Channels []string `json:"channels,omitempty"`

	// Repos restricts GitHub sync to the listed owner/repo names.
	Repos []string `json:"repos,omitempty"`

	// LookbackDays bounds the initial backfill window.
	LookbackDays int `json:"lookbackDays,omitempty"`

	// PollIntervalMinutes drives the scheduler. Zero disables polling.
	PollIntervalMinutes int `json:"pollIntervalMinutes,omitempty"`

	// SyncFiles enables attachment download/restore for sources that
	// carry file attachments.
	SyncFiles bool `json:"syncFiles,omitempty"`

	// SyncIssues / SyncPRs toggle GitHub entity types.
	SyncIssues bool `json:"syncIssues,omitempty"`
	SyncPRs    bool `json:"syncPRs,omitempty"`

	// BaseURL overrides the provider API endpoint (tests, GHE, proxies).
	BaseURL string `json:"baseUrl,omitempty"`

	// PageSize overrides the provider default page size.
	PageSize int `json:"pageSize,omitempty"`
}

// JSON serializes the config for storage.
func (c SourceConfig) JSON() ([]byte, error) {
	return json.Marshal(c)
}

// FromJSON loads the config from its stored form. Empty input leaves
// the zero config in place.
func (c *SourceConfig) FromJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c)
}

// Credentials is the decrypted credential material for a source.
// At rest it only ever exists as a secrets envelope.
type Credentials struct {
	Token        string            `json:"token,omitempty"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	APIKey       string            `json:"apiKey,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// ContentSource is a connected external account/workspace acting as an
// ingestion origin.
type ContentSource struct {
	ID             string
	OrganizationID string
	Type           SourceType
	Name           string
	Config         SourceConfig

	// EncryptedCredentials is the opaque envelope produced by secrets.Box.
	EncryptedCredentials string

	SyncStatus   SyncStatus
	LastSyncAt   *time.Time
	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the source should be picked up by the scheduler.
func (s *ContentSource) Active() bool {
	return s.SyncStatus != SyncDisabled
}
