package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/secrets"
	"github.com/crosswire-ai/crosswire/internal/store"
)

type fakeAdapter struct {
	typ       model.SourceType
	pages     []*adapter.FetchResult
	failAt    int // 1-based call index to fail on, 0 disables
	failWith  error
	calls     int
	seenOpts  []adapter.FetchOptions
	items     map[string]adapter.RawContentItem
	refreshed *model.Credentials
}

func (f *fakeAdapter) Type() model.SourceType { return f.typ }

func (f *fakeAdapter) ValidateCredentials(context.Context, *model.ContentSource, model.Credentials) bool {
	return true
}

func (f *fakeAdapter) FetchContent(_ context.Context, _ *model.ContentSource, _ model.Credentials, opts adapter.FetchOptions) (*adapter.FetchResult, error) {
	f.calls++
	f.seenOpts = append(f.seenOpts, opts)
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, f.failWith
	}
	if f.calls > len(f.pages) {
		return &adapter.FetchResult{}, nil
	}
	return f.pages[f.calls-1], nil
}

func (f *fakeAdapter) FetchItem(_ context.Context, _ *model.ContentSource, _ model.Credentials, externalID string) (*adapter.RawContentItem, error) {
	it, ok := f.items[externalID]
	if !ok {
		return nil, adapter.ErrItemNotFound
	}
	return &it, nil
}

func (f *fakeAdapter) RefreshAuth(context.Context, *model.ContentSource, model.Credentials) (model.Credentials, error) {
	if f.refreshed == nil {
		return model.Credentials{}, adapter.ErrAuthNotRefreshable
	}
	return *f.refreshed, nil
}

type recordingQueue struct {
	ids []string
}

func (q *recordingQueue) Enqueue(_ context.Context, ids ...string) error {
	q.ids = append(q.ids, ids...)
	return nil
}

func testBox(t *testing.T) *secrets.Box {
	t.Helper()
	box, err := secrets.NewBox("test-passphrase")
	require.NoError(t, err)
	return box
}

func seedSource(t *testing.T, s store.Store, box *secrets.Box, typ model.SourceType, creds model.Credentials) *model.ContentSource {
	t.Helper()
	envelope, err := box.SealCredentials(creds)
	require.NoError(t, err)
	src := &model.ContentSource{
		OrganizationID:       "org-1",
		Type:                 typ,
		Name:                 "test source",
		EncryptedCredentials: envelope,
	}
	require.NoError(t, s.CreateSource(context.Background(), src))
	return src
}

func rawItem(externalID, content string) adapter.RawContentItem {
	return adapter.RawContentItem{
		Type:       model.TypeMessage,
		ExternalID: externalID,
		Title:      externalID,
		Content:    content,
	}
}

func TestSyncRunHappyPath(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fa := &fakeAdapter{
		typ: model.SourceSlack,
		pages: []*adapter.FetchResult{
			{
				Items:            []adapter.RawContentItem{rawItem("C1:1.0", "one"), rawItem("C1:2.0", "two")},
				HasMore:          true,
				NextCursor:       "p2",
				SubCursorUpdates: map[string]string{"C1": "2.0"},
				SubMeta:          map[string]map[string]string{"C1": {"channel_name": "general"}},
			},
			{
				Items:            []adapter.RawContentItem{rawItem("C1:3.0", "three")},
				SubCursorUpdates: map[string]string{"C1": "3.0"},
			},
		},
	}
	q := &recordingQueue{}
	sy := New(s, adapter.NewRegistry(fa), box, q, zap.NewNop())

	require.NoError(t, sy.SyncSource(ctx, src.ID))

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncIdle, got.SyncStatus)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.LastSyncAt)

	items, err := s.ListItemsBySource(ctx, src.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Len(t, q.ids, 3)

	// Finished runs clear the pagination token but keep watermarks.
	def, err := s.GetCursor(ctx, src.ID, "default")
	require.NoError(t, err)
	assert.Empty(t, def.Cursor)
	assert.Equal(t, 3, def.ItemsSynced)

	ch, err := s.GetCursor(ctx, src.ID, "C1")
	require.NoError(t, err)
	assert.Equal(t, "3.0", ch.Cursor)
	assert.Equal(t, "general", ch.Meta["channel_name"])
}

func TestSecondRunResumesFromWatermarks(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fa := &fakeAdapter{
		typ: model.SourceSlack,
		pages: []*adapter.FetchResult{
			{Items: []adapter.RawContentItem{rawItem("C1:1.0", "one")}, SubCursorUpdates: map[string]string{"C1": "1.0"}},
			{Items: nil},
		},
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	require.NoError(t, sy.SyncSource(ctx, src.ID))
	require.NoError(t, sy.SyncSource(ctx, src.ID))

	require.Len(t, fa.seenOpts, 2)
	assert.Equal(t, "1.0", fa.seenOpts[1].SubCursors["C1"])
}

func TestPageBudgetPersistsCursorAndExitsCleanly(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fa := &fakeAdapter{
		typ: model.SourceSlack,
		pages: []*adapter.FetchResult{
			{Items: []adapter.RawContentItem{rawItem("C1:1.0", "one")}, HasMore: true, NextCursor: "p2"},
			{Items: []adapter.RawContentItem{rawItem("C1:2.0", "two")}},
		},
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop(), WithMaxPages(1))

	require.NoError(t, sy.SyncSource(ctx, src.ID))
	assert.Equal(t, 1, fa.calls)

	def, err := s.GetCursor(ctx, src.ID, "default")
	require.NoError(t, err)
	assert.Equal(t, "p2", def.Cursor)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncIdle, got.SyncStatus)

	// The rescheduled run picks up where the budget cut off.
	require.NoError(t, sy.SyncSource(ctx, src.ID))
	require.Len(t, fa.seenOpts, 2)
	assert.Equal(t, "p2", fa.seenOpts[1].Cursor)

	items, err := s.ListItemsBySource(ctx, src.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestAuthFailureAbortsRun(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "revoked"})

	fa := &fakeAdapter{
		typ:      model.SourceSlack,
		failAt:   1,
		failWith: &adapter.AuthError{Source: model.SourceSlack, Reason: "token_revoked"},
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	err := sy.SyncSource(ctx, src.ID)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, src.ID, syncErr.SourceID)

	got, lerr := s.GetSource(ctx, src.ID)
	require.NoError(t, lerr)
	assert.Equal(t, model.SyncError, got.SyncStatus)
	assert.Contains(t, got.ErrorMessage, "reconnect required")
	assert.Nil(t, got.LastSyncAt)
}

func TestMidRunFailureKeepsCompletedPages(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fa := &fakeAdapter{
		typ: model.SourceSlack,
		pages: []*adapter.FetchResult{
			{Items: []adapter.RawContentItem{rawItem("C1:1.0", "one")}, HasMore: true, NextCursor: "p2"},
		},
		failAt:   2,
		failWith: errors.New("rate limited hard"),
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	require.Error(t, sy.SyncSource(ctx, src.ID))

	// Page one's items and its cursor survive the failure, so the next
	// run resumes at page two rather than replaying from scratch.
	items, err := s.ListItemsBySource(ctx, src.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	def, err := s.GetCursor(ctx, src.ID, "default")
	require.NoError(t, err)
	assert.Equal(t, "p2", def.Cursor)
	assert.NotEmpty(t, def.LastError)
}

func TestPerItemFailureIsSkipped(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, ms, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fs := &failingItemStore{
		Store:          ms,
		failExternalID: "C1:2.0",
		failWith:       errors.New("thread transcript malformed"),
	}
	fa := &fakeAdapter{
		typ: model.SourceSlack,
		pages: []*adapter.FetchResult{
			{Items: []adapter.RawContentItem{
				rawItem("C1:1.0", "one"),
				rawItem("C1:2.0", "poison"),
				rawItem("C1:3.0", "three"),
			}},
		},
	}
	sy := New(fs, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	require.NoError(t, sy.SyncSource(ctx, src.ID))

	items, err := ms.ListItemsBySource(ctx, src.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	got, err := ms.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncIdle, got.SyncStatus)

	def, err := ms.GetCursor(ctx, src.ID, "default")
	require.NoError(t, err)
	assert.Equal(t, 2, def.ItemsSynced)
}

func TestDatabaseFailureAbortsRunWithCursorUntouched(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, ms, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fs := &failingItemStore{
		Store:          ms,
		failExternalID: "C1:2.0",
		failWith:       &store.DatabaseError{Op: "upsert item", Err: errors.New("connection reset")},
	}
	fa := &fakeAdapter{
		typ: model.SourceSlack,
		pages: []*adapter.FetchResult{
			{
				Items: []adapter.RawContentItem{
					rawItem("C1:1.0", "one"),
					rawItem("C1:2.0", "two"),
					rawItem("C1:3.0", "three"),
				},
				HasMore:    true,
				NextCursor: "p2",
			},
		},
	}
	sy := New(fs, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	err := sy.SyncSource(ctx, src.ID)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 1, fa.calls)

	got, lerr := ms.GetSource(ctx, src.ID)
	require.NoError(t, lerr)
	assert.Equal(t, model.SyncError, got.SyncStatus)
	assert.Contains(t, got.ErrorMessage, "storage failure")
	assert.Nil(t, got.LastSyncAt)

	// The failed page's pagination token never lands, so the next run
	// replays it from the last durable position.
	def, derr := ms.GetCursor(ctx, src.ID, "default")
	require.NoError(t, derr)
	assert.Empty(t, def.Cursor)
	assert.Equal(t, 0, def.ItemsSynced)
}

func TestExpiredCredentialsAreRefreshedAndPersisted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	expired := time.Now().Add(-time.Hour)
	src := seedSource(t, s, box, model.SourceNotion, model.Credentials{
		Token:        "old",
		RefreshToken: "refresh",
		ExpiresAt:    &expired,
	})

	fa := &fakeAdapter{
		typ:       model.SourceNotion,
		refreshed: &model.Credentials{Token: "new"},
		pages:     []*adapter.FetchResult{{}},
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	require.NoError(t, sy.SyncSource(ctx, src.ID))

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	creds, err := box.OpenCredentials(got.EncryptedCredentials)
	require.NoError(t, err)
	assert.Equal(t, "new", creds.Token)
}

func TestDisabledSourceIsSkipped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "tok"})
	require.NoError(t, s.UpdateSourceStatus(ctx, src.ID, model.SyncDisabled, "", nil))

	fa := &fakeAdapter{typ: model.SourceSlack}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	require.NoError(t, sy.SyncSource(ctx, src.ID))
	assert.Equal(t, 0, fa.calls)
}

func TestLookbackWindowOnFirstBackfill(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	box := testBox(t)
	envelope, err := box.SealCredentials(model.Credentials{Token: "tok"})
	require.NoError(t, err)
	src := &model.ContentSource{
		OrganizationID:       "org-1",
		Type:                 model.SourceSlack,
		Name:                 "scoped",
		Config:               model.SourceConfig{LookbackDays: 30},
		EncryptedCredentials: envelope,
	}
	require.NoError(t, s.CreateSource(ctx, src))

	fa := &fakeAdapter{typ: model.SourceSlack, pages: []*adapter.FetchResult{{}}}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())

	require.NoError(t, sy.SyncSource(ctx, src.ID))
	require.Len(t, fa.seenOpts, 1)
	require.NotNil(t, fa.seenOpts[0].Since)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -30), *fa.seenOpts[0].Since, time.Minute)

	// After a completed run the watermarks drive incrementality.
	require.NoError(t, sy.SyncSource(ctx, src.ID))
	require.Len(t, fa.seenOpts, 2)
	assert.Nil(t, fa.seenOpts[1].Since)
}

// failingItemStore rejects one external id with a configurable error.
type failingItemStore struct {
	store.Store
	failExternalID string
	failWith       error
}

func (f *failingItemStore) UpsertContentItem(ctx context.Context, item *model.ContentItem) (bool, error) {
	if item.ExternalID == f.failExternalID {
		return false, f.failWith
	}
	return f.Store.UpsertContentItem(ctx, item)
}
