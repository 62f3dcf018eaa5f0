package relate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/store"
)

// detectReferenceEdges turns adapter-extracted metadata into explicit
// edges. These need no embeddings: a pull request that names an issue
// implements it, an issue naming another issue or PR references it, and
// a Notion child page derives from its parent. Targets that were never
// synced (cross-repo links, unshared pages) are skipped.
func (s *Sweeper) detectReferenceEdges(ctx context.Context, items []*model.ContentItem) (int, error) {
	count := 0
	for _, it := range items {
		var edges []edgeSpec
		switch meta := it.Metadata.(type) {
		case model.GitHubPRMeta:
			edges = githubEdges(meta.Repo, meta.LinkedIssues, meta.LinkedPRs, model.RelImplements)
		case model.GitHubIssueMeta:
			edges = githubEdges(meta.Repo, meta.LinkedIssues, meta.LinkedPRs, model.RelReferences)
		case model.NotionPageMeta:
			if meta.ParentType == "page_id" && meta.ParentID != "" {
				edges = []edgeSpec{{externalID: meta.ParentID, relType: model.RelDerivedFrom}}
			}
		default:
			continue
		}

		for _, e := range edges {
			target, err := s.store.GetItemByExternalID(ctx, it.SourceID, e.externalID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return count, err
			}
			if target.ID == it.ID {
				continue
			}
			rel := &model.ContentRelationship{
				SourceItemID: it.ID,
				TargetItemID: target.ID,
				Type:         e.relType,
				Confidence:   1,
			}
			if err := s.store.UpsertRelationship(ctx, rel); err != nil {
				return count, err
			}
			count++
		}
		if len(edges) > 0 {
			s.logger.Debug("reference edges", zap.String("item_id", it.ID), zap.Int("candidates", len(edges)))
		}
	}
	return count, nil
}

type edgeSpec struct {
	externalID string
	relType    model.RelationshipType
}

// githubEdges expands linked issue and PR numbers into edge specs.
// issueRel distinguishes the PR case: a PR implements the issues it
// links, everything else is a plain reference.
func githubEdges(repo string, issues, pulls []int, issueRel model.RelationshipType) []edgeSpec {
	var out []edgeSpec
	for _, n := range issues {
		out = append(out, edgeSpec{
			externalID: fmt.Sprintf("%s#%d", repo, n),
			relType:    issueRel,
		})
	}
	for _, n := range pulls {
		out = append(out, edgeSpec{
			externalID: fmt.Sprintf("%s#%d", repo, n),
			relType:    model.RelReferences,
		})
	}
	return out
}
