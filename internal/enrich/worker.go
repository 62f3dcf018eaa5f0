package enrich

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/store"
)

const (
	defaultQueueSize = 512

	// maxAttempts per item before it is marked failed.
	maxAttempts = 3
)

// Worker drains the enrichment queue. Sync hands over item IDs; the
// worker owns all AI-derived fields and the processing_status
// lifecycle.
type Worker struct {
	store   store.Store
	ai      AI
	logger  *zap.Logger
	queue   chan string
	backoff time.Duration
}

// WorkerOption configures the worker.
type WorkerOption func(*Worker)

// WithQueueSize overrides the queue capacity.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) { w.queue = make(chan string, n) }
}

// WithBackoff overrides the retry backoff base, for tests.
func WithBackoff(d time.Duration) WorkerOption {
	return func(w *Worker) { w.backoff = d }
}

// NewWorker builds the enrichment worker.
func NewWorker(s store.Store, ai AI, logger *zap.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:   s,
		ai:      ai,
		logger:  logger.With(zap.String("component", "enrich")),
		queue:   make(chan string, defaultQueueSize),
		backoff: time.Second,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Enqueue hands item IDs to the worker, blocking when the queue is
// full so ingestion backpressures instead of dropping work.
func (w *Worker) Enqueue(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		select {
		case w.queue <- id:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run drains the queue until the context ends.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("enrichment worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("enrichment worker stopped")
			return
		case id := <-w.queue:
			if err := w.processWithRetry(ctx, id); err != nil {
				w.logger.Error("enrichment failed", zap.String("item_id", id), zap.Error(err))
			}
		}
	}
}

// ProcessContentItemsBatch re-runs enrichment for the given items
// synchronously. Used by backfills and webhook refresh; idempotent
// because only AI-derived fields are written.
func (w *Worker) ProcessContentItemsBatch(ctx context.Context, ids []string) error {
	var firstErr error
	for _, id := range ids {
		if err := w.processWithRetry(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *Worker) processWithRetry(ctx context.Context, id string) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff * time.Duration(1<<uint(attempt-1))):
			}
		}
		lastErr = w.process(ctx, id)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, store.ErrNotFound) || errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
	}
	if err := w.store.SetProcessingStatus(ctx, id, model.ProcessingFailed); err != nil {
		w.logger.Warn("marking item failed", zap.String("item_id", id), zap.Error(err))
	}
	return lastErr
}

func (w *Worker) process(ctx context.Context, id string) error {
	item, err := w.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Content == "" {
		return w.store.SetProcessingStatus(ctx, id, model.ProcessingSkipped)
	}
	if err := w.store.SetProcessingStatus(ctx, id, model.ProcessingRunning); err != nil {
		return err
	}

	ann, err := w.ai.Annotate(ctx, item.Title, item.Content)
	if err != nil {
		return err
	}

	chunks, err := w.store.ListChunks(ctx, id)
	if err != nil {
		return err
	}

	texts := []string{item.Content}
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}
	vectors, err := w.ai.Embed(ctx, texts)
	if err != nil {
		return err
	}

	if err := w.store.SaveEnrichment(ctx, id, store.EnrichmentResult{
		Summary:   ann.Summary,
		KeyPoints: ann.KeyPoints,
		Sentiment: ann.Sentiment,
		Embedding: vectors[0],
	}); err != nil {
		return err
	}

	if len(chunks) > 0 {
		for i, c := range chunks {
			c.Embedding = vectors[i+1]
		}
		if err := w.store.ReplaceChunks(ctx, id, chunks); err != nil {
			return err
		}
	}

	w.logger.Debug("item enriched", zap.String("item_id", id), zap.Int("chunks", len(chunks)))
	return nil
}
