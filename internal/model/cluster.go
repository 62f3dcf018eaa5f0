package model

import "time"

// TopicCluster groups ContentItems by semantic similarity around a
// centroid embedding. Clusters are eventually-consistent projections,
// rebuildable from items and embeddings at any time.
type TopicCluster struct {
	ID             string
	OrganizationID string
	Label          string
	Centroid       []float32
	ContentCount   int

	// SourceBreakdown counts member items per source type.
	SourceBreakdown map[string]int

	ParticipantCount int
	TrendingScore    float64

	// MemberHash is a stable hash of the sorted member set, used to keep
	// cluster identity consistent across sweeps.
	MemberHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TopicClusterMember records an item's membership in a cluster.
// (ClusterID, ContentItemID) is unique.
type TopicClusterMember struct {
	ClusterID     string
	ContentItemID string
	Similarity    float64
	PrimaryTopic  bool
	CreatedAt     time.Time
}

// TopicExpertise tracks a person's contribution frequency and recency
// within a cluster.
type TopicExpertise struct {
	ClusterID          string
	PersonKey          string // internal user id or external identity
	ContributionCount  int
	LastContributionAt time.Time
}
