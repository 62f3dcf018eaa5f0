package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/store"
)

type fakeAI struct {
	annotateErr  error
	annotateFail atomic.Int32 // fail this many calls before succeeding
	embedCalls   atomic.Int32
}

func (f *fakeAI) Annotate(_ context.Context, title, content string) (Annotation, error) {
	if f.annotateErr != nil {
		return Annotation{}, f.annotateErr
	}
	if f.annotateFail.Load() > 0 {
		f.annotateFail.Add(-1)
		return Annotation{}, errors.New("transient model error")
	}
	return Annotation{
		Summary:   "summary of " + title,
		KeyPoints: []string{"point one"},
		Sentiment: "neutral",
	}, nil
}

func (f *fakeAI) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.embedCalls.Add(1)
	out := make([][]float32, len(texts))
	for i := range texts {
		vec := make([]float32, 4)
		vec[0] = float32(len(texts[i]))
		out[i] = vec
	}
	return out, nil
}

func seedItem(t *testing.T, s store.Store, content string) *model.ContentItem {
	t.Helper()
	ctx := context.Background()
	src := &model.ContentSource{OrganizationID: "org-1", Type: model.SourceSlack, Name: "ws"}
	require.NoError(t, s.CreateSource(ctx, src))
	item := &model.ContentItem{
		OrganizationID: "org-1",
		SourceID:       src.ID,
		Type:           model.TypeMessage,
		ExternalID:     fmt.Sprintf("ext-%d", time.Now().UnixNano()),
		Title:          "hello",
		Content:        content,
	}
	_, err := s.UpsertContentItem(ctx, item)
	require.NoError(t, err)
	return item
}

func TestBatchEnrichesItem(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	item := seedItem(t, s, "the deploy finished")

	w := NewWorker(s, &fakeAI{}, zap.NewNop(), WithBackoff(time.Millisecond))
	require.NoError(t, w.ProcessContentItemsBatch(ctx, []string{item.ID}))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingCompleted, got.ProcessingStatus)
	assert.Equal(t, "summary of hello", got.Summary)
	assert.Equal(t, []string{"point one"}, got.KeyPoints)
	assert.NotEmpty(t, got.Embedding)
}

func TestChunksGetEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	item := seedItem(t, s, "a long transcript")
	require.NoError(t, s.ReplaceChunks(ctx, item.ID, []*model.ContentChunk{
		{ChunkIndex: 0, Content: "part one"},
		{ChunkIndex: 1, Content: "part two"},
	}))

	w := NewWorker(s, &fakeAI{}, zap.NewNop(), WithBackoff(time.Millisecond))
	require.NoError(t, w.ProcessContentItemsBatch(ctx, []string{item.ID}))

	chunks, err := s.ListChunks(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.NotEmpty(t, c.Embedding)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	item := seedItem(t, s, "flaky")

	ai := &fakeAI{}
	ai.annotateFail.Store(2)
	w := NewWorker(s, ai, zap.NewNop(), WithBackoff(time.Millisecond))
	require.NoError(t, w.ProcessContentItemsBatch(ctx, []string{item.ID}))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingCompleted, got.ProcessingStatus)
}

func TestPersistentFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	item := seedItem(t, s, "doomed")

	w := NewWorker(s, &fakeAI{annotateErr: errors.New("model down")}, zap.NewNop(), WithBackoff(time.Millisecond))
	err := w.ProcessContentItemsBatch(ctx, []string{item.ID})
	require.Error(t, err)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingFailed, got.ProcessingStatus)
}

func TestEmptyContentSkipped(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	item := seedItem(t, s, "")

	ai := &fakeAI{}
	w := NewWorker(s, ai, zap.NewNop(), WithBackoff(time.Millisecond))
	require.NoError(t, w.ProcessContentItemsBatch(ctx, []string{item.ID}))

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProcessingSkipped, got.ProcessingStatus)
	assert.Equal(t, int32(0), ai.embedCalls.Load())
}

func TestQueueRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	item := seedItem(t, s, "queued work")

	w := NewWorker(s, &fakeAI{}, zap.NewNop(), WithQueueSize(4), WithBackoff(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.NoError(t, w.Enqueue(ctx, item.ID))

	require.Eventually(t, func() bool {
		got, err := s.GetItem(context.Background(), item.ID)
		return err == nil && got.ProcessingStatus == model.ProcessingCompleted
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
