package relate

import (
	"context"
	"math"
	"time"

	"github.com/crosswire-ai/crosswire/internal/model"
)

// buildClusters assigns every embedded item to its nearest centroid
// above the threshold, seeding a new cluster otherwise, then replaces
// the organization's cluster projection wholesale. Cluster IDs hash the
// sorted member set, so an unchanged grouping keeps its identity across
// sweeps.
func (s *Sweeper) buildClusters(ctx context.Context, orgID string, items []*model.ContentItem, sourceType map[string]model.SourceType) ([]*model.TopicCluster, []*model.TopicClusterMember, error) {
	if len(items) == 0 {
		return nil, nil, s.store.ReplaceClusters(ctx, orgID, nil, nil)
	}

	type centroid struct {
		vec     []float32
		n       int
		members []*model.ContentItem
	}
	var centroids []*centroid

	for _, it := range items {
		bestIdx := -1
		bestSim := -1.0
		for idx, c := range centroids {
			if sim := cosineSim(it.Embedding, c.vec); sim > bestSim {
				bestSim = sim
				bestIdx = idx
			}
		}
		if bestIdx >= 0 && bestSim >= s.clusterThreshold {
			c := centroids[bestIdx]
			c.vec = avgVec(c.vec, it.Embedding, c.n+1)
			c.n++
			c.members = append(c.members, it)
		} else {
			centroids = append(centroids, &centroid{vec: it.Embedding, n: 1, members: []*model.ContentItem{it}})
		}
	}

	now := s.now().UTC()
	var clusters []*model.TopicCluster
	var members []*model.TopicClusterMember
	expertise := make(map[string]map[string]*model.TopicExpertise)

	for _, c := range centroids {
		memberIDs := make([]string, len(c.members))
		for i, it := range c.members {
			memberIDs[i] = it.ID
		}
		clusterID := stableClusterID(orgID, memberIDs)

		cluster := &model.TopicCluster{
			ID:              clusterID,
			OrganizationID:  orgID,
			Centroid:        c.vec,
			ContentCount:    len(c.members),
			SourceBreakdown: make(map[string]int),
			MemberHash:      clusterID,
		}

		people := make(map[string]struct{})
		bestSim := -1.0
		for _, it := range c.members {
			sim := cosineSim(it.Embedding, c.vec)
			members = append(members, &model.TopicClusterMember{
				ClusterID:     clusterID,
				ContentItemID: it.ID,
				Similarity:    sim,
				PrimaryTopic:  true,
			})
			if sim > bestSim {
				bestSim = sim
				cluster.Label = it.Title
			}

			if st, ok := sourceType[it.SourceID]; ok {
				cluster.SourceBreakdown[string(st)]++
			}
			cluster.TrendingScore += s.decayWeight(itemTime(it), now)

			if key := authorKey(it); key != "" {
				people[key] = struct{}{}
				recordContribution(expertise, clusterID, key, itemTime(it))
			}
			parts, err := s.store.ListParticipants(ctx, it.ID)
			if err != nil {
				return nil, nil, err
			}
			for _, p := range parts {
				key := participantKey(p)
				if key == "" {
					continue
				}
				people[key] = struct{}{}
				if p.Role == model.RoleSpeaker || p.Role == model.RoleAuthor {
					recordContribution(expertise, clusterID, key, itemTime(it))
				}
			}
		}
		cluster.ParticipantCount = len(people)
		clusters = append(clusters, cluster)
	}

	if err := s.store.ReplaceClusters(ctx, orgID, clusters, members); err != nil {
		return nil, nil, err
	}
	for _, byPerson := range expertise {
		for _, e := range byPerson {
			if err := s.store.UpsertExpertise(ctx, e); err != nil {
				return nil, nil, err
			}
		}
	}
	return clusters, members, nil
}

// decayWeight is the trending contribution of one item: 1.0 when fresh,
// halving every trendingHalfLife.
func (s *Sweeper) decayWeight(at time.Time, now time.Time) float64 {
	if at.IsZero() || !at.Before(now) {
		return 1
	}
	age := now.Sub(at)
	return math.Exp2(-float64(age) / float64(s.trendingHalfLife))
}

func itemTime(it *model.ContentItem) time.Time {
	if it.SourceCreatedAt != nil {
		return *it.SourceCreatedAt
	}
	return it.UpdatedAt
}

func authorKey(it *model.ContentItem) string {
	switch {
	case it.AuthorUserID != "":
		return it.AuthorUserID
	case it.AuthorExternalID != "":
		return it.AuthorExternalID
	default:
		return it.AuthorName
	}
}

func participantKey(p *model.ContentParticipant) string {
	switch {
	case p.UserID != "":
		return p.UserID
	case p.ExternalID != "":
		return p.ExternalID
	default:
		return p.Name
	}
}

func recordContribution(expertise map[string]map[string]*model.TopicExpertise, clusterID, key string, at time.Time) {
	byPerson := expertise[clusterID]
	if byPerson == nil {
		byPerson = make(map[string]*model.TopicExpertise)
		expertise[clusterID] = byPerson
	}
	e := byPerson[key]
	if e == nil {
		e = &model.TopicExpertise{ClusterID: clusterID, PersonKey: key}
		byPerson[key] = e
	}
	e.ContributionCount++
	if at.After(e.LastContributionAt) {
		e.LastContributionAt = at
	}
}
