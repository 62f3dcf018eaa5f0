package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswire-ai/crosswire/internal/model"
)

func newTestSource(t *testing.T, s Store) *model.ContentSource {
	t.Helper()
	src := &model.ContentSource{
		OrganizationID: "org-1",
		Type:           model.SourceSlack,
		Name:           "eng workspace",
	}
	require.NoError(t, s.CreateSource(context.Background(), src))
	return src
}

func TestUpsertContentItemCreatesThenDeduplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	item := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeMessage,
		ExternalID:     "C123:1700000000.000100",
		Content:        "deploy is done",
	}
	created, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := item.ID

	// Replaying the same page must not create a second row.
	replay := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeMessage,
		ExternalID:     "C123:1700000000.000100",
		Content:        "deploy is done",
	}
	created, err = s.UpsertContentItem(ctx, replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, replay.ID)

	items, err := s.ListItemsBySource(ctx, src.ID, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestUpsertPreservesAIFieldsAndResetsOnContentChange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	item := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeMessage,
		ExternalID:     "C123:1",
		Content:        "original text",
	}
	_, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.SaveEnrichment(ctx, item.ID, EnrichmentResult{
		Summary:   "a summary",
		KeyPoints: []string{"point"},
		Sentiment: "neutral",
		Embedding: []float32{0.1, 0.2},
	}))

	// Same content: enrichment survives, status stays completed.
	same := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeMessage,
		ExternalID:     "C123:1",
		Content:        "original text",
	}
	_, err = s.UpsertContentItem(ctx, same)
	require.NoError(t, err)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "a summary", got.Summary)
	assert.Equal(t, model.ProcessingCompleted, got.ProcessingStatus)
	assert.Len(t, got.Embedding, 2)

	// Edited content: enrichment is kept but the item goes back to
	// pending so the pipeline re-runs.
	edited := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeMessage,
		ExternalID:     "C123:1",
		Content:        "edited text",
	}
	_, err = s.UpsertContentItem(ctx, edited)
	require.NoError(t, err)

	got, err = s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited text", got.Content)
	assert.Equal(t, "a summary", got.Summary)
	assert.Equal(t, model.ProcessingPending, got.ProcessingStatus)
}

func TestSameExternalIDAcrossSourcesIsDistinct(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	srcA := newTestSource(t, s)
	srcB := newTestSource(t, s)

	for _, src := range []*model.ContentSource{srcA, srcB} {
		created, err := s.UpsertContentItem(ctx, &model.ContentItem{
			OrganizationID: "org-1",
			SourceID:       src.ID,
			Type:           model.TypeMessage,
			ExternalID:     "shared-id",
			Content:        "hello",
		})
		require.NoError(t, err)
		assert.True(t, created)
	}
}

func TestListPendingItemsOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	for i, ext := range []string{"a", "b", "c"} {
		_, err := s.UpsertContentItem(ctx, &model.ContentItem{
			OrganizationID: "org-1",
			SourceID:       src.ID,
			Type:           model.TypeMessage,
			ExternalID:     ext,
			Content:        "msg",
		})
		require.NoError(t, err)
		_ = i
	}

	pending, err := s.ListPendingItems(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	for _, it := range pending {
		assert.Equal(t, model.ProcessingPending, it.ProcessingStatus)
	}
}

func TestCursorUpsertMergesPartialUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	cursor := "page-2"
	now := time.Now().UTC()
	require.NoError(t, s.UpsertCursor(ctx, src.ID, "C123", model.CursorUpdate{
		Cursor:       &cursor,
		LastSyncedAt: &now,
		ItemsDelta:   5,
		Meta:         map[string]string{"channel_type": "public"},
	}))

	// A later partial update must not clobber the cursor token.
	require.NoError(t, s.UpsertCursor(ctx, src.ID, "C123", model.CursorUpdate{
		ItemsDelta: 3,
	}))

	cur, err := s.GetCursor(ctx, src.ID, "C123")
	require.NoError(t, err)
	assert.Equal(t, "page-2", cur.Cursor)
	assert.Equal(t, 8, cur.ItemsSynced)
	assert.Equal(t, "public", cur.Meta["channel_type"])
	require.NotNil(t, cur.LastSyncedAt)
}

func TestCursorsAreIndependentPerSubresource(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	c1, c2 := "slack-cursor-1", "owner/repo-cursor"
	require.NoError(t, s.UpsertCursor(ctx, src.ID, "C111", model.CursorUpdate{Cursor: &c1}))
	require.NoError(t, s.UpsertCursor(ctx, src.ID, "C222", model.CursorUpdate{Cursor: &c2}))

	cursors, err := s.ListCursors(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	assert.Equal(t, "slack-cursor-1", cursors[0].Cursor)
	assert.Equal(t, "owner/repo-cursor", cursors[1].Cursor)
}

func TestUpsertRelationshipRefreshesConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	a := &model.ContentItem{OrganizationID: "org-1", SourceID: src.ID, Type: model.TypeIssue, ExternalID: "1"}
	b := &model.ContentItem{OrganizationID: "org-1", SourceID: src.ID, Type: model.TypePullReq, ExternalID: "2"}
	_, err := s.UpsertContentItem(ctx, a)
	require.NoError(t, err)
	_, err = s.UpsertContentItem(ctx, b)
	require.NoError(t, err)

	rel := &model.ContentRelationship{
		SourceItemID: b.ID,
		TargetItemID: a.ID,
		Type:         model.RelImplements,
		Confidence:   0.7,
	}
	require.NoError(t, s.UpsertRelationship(ctx, rel))

	// Re-detection with a new confidence must update in place.
	require.NoError(t, s.UpsertRelationship(ctx, &model.ContentRelationship{
		SourceItemID: b.ID,
		TargetItemID: a.ID,
		Type:         model.RelImplements,
		Confidence:   0.9,
	}))

	rels, err := s.ListRelationships(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.InDelta(t, 0.9, rels[0].Confidence, 1e-9)
}

func TestReplaceChunksSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	item := &model.ContentItem{OrganizationID: "org-1", SourceID: src.ID, Type: model.TypeVideo, ExternalID: "vid-1"}
	_, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)

	start0, end0 := 0.0, 30.0
	require.NoError(t, s.ReplaceChunks(ctx, item.ID, []*model.ContentChunk{
		{ChunkIndex: 0, Content: "intro", StartSecond: &start0, EndSecond: &end0},
		{ChunkIndex: 1, Content: "middle"},
		{ChunkIndex: 2, Content: "outro"},
	}))
	require.NoError(t, s.ReplaceChunks(ctx, item.ID, []*model.ContentChunk{
		{ChunkIndex: 0, Content: "full transcript"},
	}))

	chunks, err := s.ListChunks(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "full transcript", chunks[0].Content)
}

func TestReplaceClustersIsWholesale(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	item := &model.ContentItem{OrganizationID: "org-1", SourceID: src.ID, Type: model.TypeMessage, ExternalID: "m1"}
	_, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.ReplaceClusters(ctx, "org-1",
		[]*model.TopicCluster{{ID: "cl-old", ContentCount: 1}},
		[]*model.TopicClusterMember{{ClusterID: "cl-old", ContentItemID: item.ID}}))
	require.NoError(t, s.ReplaceClusters(ctx, "org-1",
		[]*model.TopicCluster{{ID: "cl-new", ContentCount: 1}},
		[]*model.TopicClusterMember{{ClusterID: "cl-new", ContentItemID: item.ID, PrimaryTopic: true}}))

	clusters, err := s.ListClusters(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, "cl-new", clusters[0].ID)

	members, err := s.ListClusterMembers(ctx, "cl-new")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].PrimaryTopic)
}

func TestSourceStatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	require.NoError(t, s.UpdateSourceStatus(ctx, src.ID, model.SyncSyncing, "", nil))
	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncSyncing, got.SyncStatus)
	assert.Nil(t, got.LastSyncAt)

	done := time.Now().UTC()
	require.NoError(t, s.UpdateSourceStatus(ctx, src.ID, model.SyncIdle, "", &done))
	got, err = s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncIdle, got.SyncStatus)
	require.NotNil(t, got.LastSyncAt)

	require.NoError(t, s.UpdateSourceStatus(ctx, src.ID, model.SyncError, "token revoked", nil))
	got, err = s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncError, got.SyncStatus)
	assert.Equal(t, "token revoked", got.ErrorMessage)
	// A failed run keeps the last successful sync time.
	require.NotNil(t, got.LastSyncAt)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.GetSource(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetItem(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetCursor(ctx, "nope", "default")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceParticipantsDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	item := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeThread,
		ExternalID:     "C1:thread-1.0",
		Content:        "thread",
	}
	_, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)

	require.NoError(t, s.ReplaceParticipants(ctx, item.ID, []*model.ContentParticipant{
		{Role: model.RoleAuthor, ExternalID: "U1"},
		{Role: model.RoleParticipant, ExternalID: "U2"},
	}))

	// U2 left the thread; the refreshed set must not keep them around.
	require.NoError(t, s.ReplaceParticipants(ctx, item.ID, []*model.ContentParticipant{
		{Role: model.RoleAuthor, ExternalID: "U1"},
		{Role: model.RoleParticipant, ExternalID: "U3"},
	}))

	parts, err := s.ListParticipants(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	ids := []string{parts[0].ExternalID, parts[1].ExternalID}
	assert.ElementsMatch(t, []string{"U1", "U3"}, ids)
}

func TestGetItemWithRelationsJoinsGraphContext(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	src := newTestSource(t, s)

	item := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeDocument,
		ExternalID:     "doc-1",
		Content:        "body",
	}
	_, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)
	other := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeDocument,
		ExternalID:     "doc-2",
		Content:        "related",
	}
	_, err = s.UpsertContentItem(ctx, other)
	require.NoError(t, err)

	require.NoError(t, s.ReplaceChunks(ctx, item.ID, []*model.ContentChunk{
		{ChunkIndex: 0, Content: "body"},
	}))
	require.NoError(t, s.ReplaceParticipants(ctx, item.ID, []*model.ContentParticipant{
		{Role: model.RoleAuthor, ExternalID: "U1"},
	}))
	require.NoError(t, s.UpsertRelationship(ctx, &model.ContentRelationship{
		SourceItemID: item.ID,
		TargetItemID: other.ID,
		Type:         model.RelReferences,
		Confidence:   1,
	}))

	got, err := s.GetItemWithRelations(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.Item.ID)
	assert.Len(t, got.Chunks, 1)
	assert.Len(t, got.Participants, 1)
	require.Len(t, got.Relationships, 1)
	assert.Equal(t, other.ID, got.Relationships[0].TargetItemID)

	_, err = s.GetItemWithRelations(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
