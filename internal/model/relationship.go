package model

import "time"

// RelationshipType is the kind of a directed edge between two items.
type RelationshipType string

const (
	RelReferences  RelationshipType = "references"
	RelRepliesTo   RelationshipType = "replies_to"
	RelImplements  RelationshipType = "implements"
	RelSupersedes  RelationshipType = "supersedes"
	RelRelatesTo   RelationshipType = "relates_to"
	RelSimilarTo   RelationshipType = "similar_to"
	RelMentions    RelationshipType = "mentions"
	RelDerivedFrom RelationshipType = "derived_from"
)

// ContentRelationship is a directed, typed, confidence-scored edge.
// (SourceItemID, TargetItemID, Type) is unique; re-detection upserts and
// refreshes Confidence rather than inserting a duplicate.
type ContentRelationship struct {
	ID           string
	SourceItemID string
	TargetItemID string
	Type         RelationshipType
	Confidence   float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ParticipantRole describes how a person is involved in an item.
type ParticipantRole string

const (
	RoleAuthor      ParticipantRole = "author"
	RoleSpeaker     ParticipantRole = "speaker"
	RoleParticipant ParticipantRole = "participant"
	RoleMentioned   ParticipantRole = "mentioned"
	RoleAssignee    ParticipantRole = "assignee"
	RoleReviewer    ParticipantRole = "reviewer"
)

// ContentParticipant records a person's involvement in an item, either
// resolved to an internal user or kept as an external identity.
type ContentParticipant struct {
	ID            string
	ContentItemID string
	Role          ParticipantRole
	UserID        string
	ExternalID    string
	Name          string
	Email         string
	CreatedAt     time.Time
}
