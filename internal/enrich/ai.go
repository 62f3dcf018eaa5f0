// Package enrich derives AI metadata for content items: summaries, key
// points, sentiment, and embeddings. It consumes item IDs from a
// bounded queue fed by the sync orchestrator and only ever writes
// AI-derived fields.
package enrich

import "context"

// Annotation is the text-level enrichment for one item.
type Annotation struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
	Sentiment string   `json:"sentiment"`
}

// AI is the external model surface. Implementations must be safe for
// concurrent use; tests substitute a fake.
type AI interface {
	// Annotate summarizes one document.
	Annotate(ctx context.Context, title, content string) (Annotation, error)

	// Embed returns one 1536-dim vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
