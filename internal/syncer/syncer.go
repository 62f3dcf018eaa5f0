// Package syncer runs the per-source sync loop: resolve an adapter,
// page through its content with a durable cursor, upsert each page,
// and hand new work to the enrichment queue. One run paginates
// sequentially; independent sources run concurrently.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/secrets"
	"github.com/crosswire-ai/crosswire/internal/store"
)

const (
	// defaultCursorKey is the cursor row carrying the run-level
	// pagination token; adapters keep per-subresource watermarks in
	// their own rows.
	defaultCursorKey = "default"

	defaultMaxPages   = 50
	defaultMaxRunTime = 10 * time.Minute
)

// SyncError wraps a systemic run failure with the stage that hit it.
type SyncError struct {
	SourceID string
	Stage    string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s: %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Enqueuer receives item IDs for enrichment. The enrichment worker
// satisfies it; tests substitute a recorder.
type Enqueuer interface {
	Enqueue(ctx context.Context, ids ...string) error
}

// Syncer orchestrates sync runs over registered adapters.
type Syncer struct {
	store      store.Store
	registry   *adapter.Registry
	box        *secrets.Box
	enqueue    Enqueuer
	logger     *zap.Logger
	maxPages   int
	maxRunTime time.Duration
	now        func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithMaxPages caps pages per run; the cursor is persisted and the run
// exits cleanly when the cap is hit.
func WithMaxPages(n int) Option {
	return func(s *Syncer) { s.maxPages = n }
}

// WithMaxRunTime caps wall-clock time per run.
func WithMaxRunTime(d time.Duration) Option {
	return func(s *Syncer) { s.maxRunTime = d }
}

func withClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

// New builds a Syncer.
func New(st store.Store, reg *adapter.Registry, box *secrets.Box, enq Enqueuer, logger *zap.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		store:      st,
		registry:   reg,
		box:        box,
		enqueue:    enq,
		logger:     logger.With(zap.String("component", "syncer")),
		maxPages:   defaultMaxPages,
		maxRunTime: defaultMaxRunTime,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SyncSource runs one sync for the source: syncing, then idle on
// success or error with a human-readable message on systemic failure.
// Malformed items are logged and skipped; storage faults abort the run
// with the cursor untouched.
func (s *Syncer) SyncSource(ctx context.Context, sourceID string) error {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return &SyncError{SourceID: sourceID, Stage: "load source", Err: err}
	}
	if !src.Active() {
		s.logger.Info("source disabled, skipping", zap.String("source_id", sourceID))
		return nil
	}
	logger := s.logger.With(
		zap.String("source_id", src.ID),
		zap.String("source_type", string(src.Type)))

	ad, err := s.registry.Get(src.Type)
	if err != nil {
		return s.fail(ctx, src, "resolve adapter", err)
	}
	creds, err := s.credentials(ctx, src, ad)
	if err != nil {
		return s.fail(ctx, src, "credentials", err)
	}

	if err := s.store.UpdateSourceStatus(ctx, src.ID, model.SyncSyncing, "", nil); err != nil {
		return &SyncError{SourceID: src.ID, Stage: "mark syncing", Err: err}
	}

	opts, err := s.loadResumeState(ctx, src)
	if err != nil {
		return s.fail(ctx, src, "load cursor", err)
	}

	start := s.now()
	pages, items := 0, 0
	budgetHit := false

	for {
		if err := ctx.Err(); err != nil {
			return s.fail(ctx, src, "canceled", err)
		}
		res, err := ad.FetchContent(ctx, src, creds, opts)
		if err != nil {
			return s.fail(ctx, src, "fetch", err)
		}

		stored := 0
		for i := range res.Items {
			if err := s.persistItem(ctx, src, &res.Items[i]); err != nil {
				// Storage faults are systemic: abort before any cursor
				// write so the page replays next run.
				var dbe *store.DatabaseError
				if errors.As(err, &dbe) {
					return s.fail(ctx, src, "persist item", err)
				}
				logger.Warn("item skipped",
					zap.String("external_id", res.Items[i].ExternalID),
					zap.Error(err))
				continue
			}
			stored++
		}

		// Cursor writes land only after the page's upserts, so a crash
		// replays the page instead of losing it.
		if err := s.advanceCursors(ctx, src.ID, res, stored); err != nil {
			return s.fail(ctx, src, "advance cursor", err)
		}

		pages++
		items += stored
		if !res.HasMore {
			break
		}
		opts.Cursor = res.NextCursor

		if pages >= s.maxPages || s.now().Sub(start) >= s.maxRunTime {
			budgetHit = true
			break
		}
	}

	syncedAt := s.now().UTC()
	if err := s.store.UpdateSourceStatus(ctx, src.ID, model.SyncIdle, "", &syncedAt); err != nil {
		return &SyncError{SourceID: src.ID, Stage: "mark idle", Err: err}
	}
	logger.Info("sync run finished",
		zap.Int("pages", pages),
		zap.Int("items", items),
		zap.Bool("budget_hit", budgetHit),
		zap.Duration("elapsed", s.now().Sub(start)))
	return nil
}

// RefreshItem re-fetches a single item, typically on a webhook event,
// and queues it for enrichment.
func (s *Syncer) RefreshItem(ctx context.Context, sourceID, externalID string) error {
	src, err := s.store.GetSource(ctx, sourceID)
	if err != nil {
		return &SyncError{SourceID: sourceID, Stage: "load source", Err: err}
	}
	ad, err := s.registry.Get(src.Type)
	if err != nil {
		return &SyncError{SourceID: sourceID, Stage: "resolve adapter", Err: err}
	}
	creds, err := s.credentials(ctx, src, ad)
	if err != nil {
		return &SyncError{SourceID: sourceID, Stage: "credentials", Err: err}
	}
	raw, err := ad.FetchItem(ctx, src, creds, externalID)
	if err != nil {
		return &SyncError{SourceID: sourceID, Stage: "fetch item", Err: err}
	}
	if err := s.persistItem(ctx, src, raw); err != nil {
		return &SyncError{SourceID: sourceID, Stage: "persist item", Err: err}
	}
	return nil
}

// credentials opens the envelope and refreshes expired tokens when the
// provider supports it, persisting the rotated envelope.
func (s *Syncer) credentials(ctx context.Context, src *model.ContentSource, ad adapter.SourceAdapter) (model.Credentials, error) {
	creds, err := s.box.OpenCredentials(src.EncryptedCredentials)
	if err != nil {
		return model.Credentials{}, err
	}
	if creds.ExpiresAt == nil || creds.ExpiresAt.After(s.now()) {
		return creds, nil
	}

	refreshed, err := ad.RefreshAuth(ctx, src, creds)
	if errors.Is(err, adapter.ErrAuthNotRefreshable) {
		return creds, nil
	}
	if err != nil {
		return model.Credentials{}, err
	}
	envelope, err := s.box.SealCredentials(refreshed)
	if err != nil {
		return model.Credentials{}, err
	}
	if err := s.store.UpdateSourceCredentials(ctx, src.ID, envelope); err != nil {
		return model.Credentials{}, err
	}
	src.EncryptedCredentials = envelope
	return refreshed, nil
}

// loadResumeState rebuilds FetchOptions from the cursor rows: the
// default row's pagination token plus per-subresource watermarks.
func (s *Syncer) loadResumeState(ctx context.Context, src *model.ContentSource) (adapter.FetchOptions, error) {
	opts := adapter.FetchOptions{
		PageSize:   src.Config.PageSize,
		SubCursors: make(map[string]string),
	}

	cursors, err := s.store.ListCursors(ctx, src.ID)
	if err != nil {
		return opts, err
	}
	var synced bool
	for _, c := range cursors {
		if c.SubresourceKey == defaultCursorKey {
			opts.Cursor = c.Cursor
			synced = synced || c.LastSyncedAt != nil
			continue
		}
		opts.SubCursors[c.SubresourceKey] = c.Cursor
	}

	// First backfill honors the configured lookback window.
	if !synced && opts.Cursor == "" && src.Config.LookbackDays > 0 {
		since := s.now().UTC().AddDate(0, 0, -src.Config.LookbackDays)
		opts.Since = &since
	}
	return opts, nil
}

func (s *Syncer) persistItem(ctx context.Context, src *model.ContentSource, raw *adapter.RawContentItem) error {
	item := &model.ContentItem{
		OrganizationID:   src.OrganizationID,
		SourceID:         src.ID,
		Type:             raw.Type,
		ExternalID:       raw.ExternalID,
		Title:            raw.Title,
		Content:          raw.Content,
		RichContent:      raw.RichContent,
		AuthorExternalID: raw.AuthorExternalID,
		AuthorName:       raw.AuthorName,
		SourceCreatedAt:  raw.SourceCreatedAt,
		SourceUpdatedAt:  raw.SourceUpdatedAt,
		Metadata:         raw.Metadata,
		Tags:             raw.Tags,
	}
	if _, err := s.store.UpsertContentItem(ctx, item); err != nil {
		return err
	}

	if len(raw.Participants) > 0 {
		parts := make([]*model.ContentParticipant, len(raw.Participants))
		for i, p := range raw.Participants {
			parts[i] = &model.ContentParticipant{
				ContentItemID: item.ID,
				Role:          p.Role,
				ExternalID:    p.ExternalID,
				Name:          p.Name,
				Email:         p.Email,
			}
		}
		if err := s.store.ReplaceParticipants(ctx, item.ID, parts); err != nil {
			return err
		}
	}

	// Chunk swaps and re-enrichment only happen when the upsert left
	// the item pending; unchanged items keep their embedded chunks.
	if item.ProcessingStatus != model.ProcessingPending {
		return nil
	}
	if len(raw.Chunks) > 0 {
		chunks := make([]*model.ContentChunk, len(raw.Chunks))
		for i, rc := range raw.Chunks {
			chunks[i] = &model.ContentChunk{
				ChunkIndex:  rc.Index,
				Content:     rc.Content,
				StartOffset: rc.StartOffset,
				EndOffset:   rc.EndOffset,
				StartSecond: rc.StartSecond,
				EndSecond:   rc.EndSecond,
			}
		}
		if err := s.store.ReplaceChunks(ctx, item.ID, chunks); err != nil {
			return err
		}
	}

	if s.enqueue != nil {
		if err := s.enqueue.Enqueue(ctx, item.ID); err != nil {
			return err
		}
	}
	return nil
}

// advanceCursors persists per-subresource watermarks and the run-level
// pagination token for one completed page.
func (s *Syncer) advanceCursors(ctx context.Context, sourceID string, res *adapter.FetchResult, stored int) error {
	now := s.now().UTC()
	for key, cur := range res.SubCursorUpdates {
		upd := model.CursorUpdate{
			Cursor:       ptr(cur),
			LastSyncedAt: &now,
			Meta:         res.SubMeta[key],
		}
		if err := s.store.UpsertCursor(ctx, sourceID, key, upd); err != nil {
			return err
		}
	}

	next := res.NextCursor
	if !res.HasMore {
		next = ""
	}
	return s.store.UpsertCursor(ctx, sourceID, defaultCursorKey, model.CursorUpdate{
		Cursor:       ptr(next),
		LastSyncedAt: &now,
		ItemsDelta:   stored,
		LastError:    ptr(""),
	})
}

// fail flags the source and leaves the cursor untouched so the next run
// resumes from the last durable position.
func (s *Syncer) fail(ctx context.Context, src *model.ContentSource, stage string, err error) error {
	msg := err.Error()
	var authErr *adapter.AuthError
	if errors.As(err, &authErr) {
		msg = fmt.Sprintf("authentication failed, reconnect required: %s", authErr.Reason)
	}
	var dbErr *store.DatabaseError
	if errors.As(err, &dbErr) {
		msg = fmt.Sprintf("storage failure during %s", dbErr.Op)
	}

	if uerr := s.store.UpdateSourceStatus(ctx, src.ID, model.SyncError, msg, nil); uerr != nil {
		s.logger.Error("recording sync failure", zap.String("source_id", src.ID), zap.Error(uerr))
	}
	_ = s.store.UpsertCursor(ctx, src.ID, defaultCursorKey, model.CursorUpdate{LastError: ptr(msg)})

	s.logger.Error("sync run failed",
		zap.String("source_id", src.ID),
		zap.String("stage", stage),
		zap.Error(err))
	return &SyncError{SourceID: src.ID, Stage: stage, Err: err}
}

func ptr[T any](v T) *T { return &v }
