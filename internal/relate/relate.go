// Package relate builds the derived content graph: similarity edges,
// explicit reference edges from source metadata, topic clusters, and
// per-topic expertise. It runs as a periodic sweep decoupled from
// ingestion; a failed sweep is retried on the next tick and never
// blocks sync.
package relate

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/store"
)

const (
	defaultSimThreshold     = 0.82
	defaultClusterThreshold = 0.70
	defaultTrendingHalfLife = 7 * 24 * time.Hour
)

// Sweeper recomputes the relationship and cluster projections for one
// organization at a time.
type Sweeper struct {
	store            store.Store
	logger           *zap.Logger
	simThreshold     float64
	clusterThreshold float64
	trendingHalfLife time.Duration
	now              func() time.Time
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithSimilarityThreshold sets the cosine cutoff for similar_to edges.
func WithSimilarityThreshold(v float64) Option {
	return func(s *Sweeper) { s.simThreshold = v }
}

// WithClusterThreshold sets the centroid assignment cutoff.
func WithClusterThreshold(v float64) Option {
	return func(s *Sweeper) { s.clusterThreshold = v }
}

// WithTrendingHalfLife sets the decay half-life for trending scores.
func WithTrendingHalfLife(d time.Duration) Option {
	return func(s *Sweeper) { s.trendingHalfLife = d }
}

func withClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper builds a sweeper over the given store.
func NewSweeper(st store.Store, logger *zap.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:            st,
		logger:           logger.With(zap.String("component", "relate")),
		simThreshold:     defaultSimThreshold,
		clusterThreshold: defaultClusterThreshold,
		trendingHalfLife: defaultTrendingHalfLife,
		now:              time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sweep rebuilds the derived graph for one organization: reference
// edges from adapter metadata, similarity edges from embeddings, then
// the full cluster projection with expertise rollups.
func (s *Sweeper) Sweep(ctx context.Context, orgID string) error {
	sources, err := s.store.ListSources(ctx, orgID)
	if err != nil {
		return err
	}
	sourceType := make(map[string]model.SourceType, len(sources))
	var allItems []*model.ContentItem
	for _, src := range sources {
		sourceType[src.ID] = src.Type
		items, err := s.store.ListItemsBySource(ctx, src.ID, 0)
		if err != nil {
			return err
		}
		allItems = append(allItems, items...)
	}

	refEdges, err := s.detectReferenceEdges(ctx, allItems)
	if err != nil {
		return err
	}

	embedded, err := s.store.ListEmbeddedItems(ctx, orgID)
	if err != nil {
		return err
	}
	// Pair iteration relies on ID order so edge direction is stable
	// across sweeps.
	sort.Slice(embedded, func(i, j int) bool { return embedded[i].ID < embedded[j].ID })

	simEdges, err := s.detectSimilarEdges(ctx, embedded)
	if err != nil {
		return err
	}

	clusters, members, err := s.buildClusters(ctx, orgID, embedded, sourceType)
	if err != nil {
		return err
	}

	s.logger.Info("sweep complete",
		zap.String("org_id", orgID),
		zap.Int("items", len(allItems)),
		zap.Int("embedded", len(embedded)),
		zap.Int("reference_edges", refEdges),
		zap.Int("similarity_edges", simEdges),
		zap.Int("clusters", len(clusters)),
		zap.Int("cluster_members", len(members)))
	return nil
}

// detectSimilarEdges upserts similar_to edges for every embedded pair
// above the threshold. Edges are stored with the lexically smaller item
// ID as the source so re-detection hits the same row and refreshes its
// confidence.
func (s *Sweeper) detectSimilarEdges(ctx context.Context, items []*model.ContentItem) (int, error) {
	count := 0
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			sim := cosineSim(items[i].Embedding, items[j].Embedding)
			if sim < s.simThreshold {
				continue
			}
			rel := &model.ContentRelationship{
				SourceItemID: items[i].ID,
				TargetItemID: items[j].ID,
				Type:         model.RelSimilarTo,
				Confidence:   sim,
			}
			if err := s.store.UpsertRelationship(ctx, rel); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
