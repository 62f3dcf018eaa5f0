package model

import (
	"encoding/json"
	"fmt"
)

// Metadata is the closed tagged union of per-source metadata shapes.
// Each adapter's converter returns a concrete variant; the repository
// serializes it opaquely without interpreting other sources' shapes.
type Metadata interface {
	MetadataKind() string
}

// SlackMessageMeta describes a single, non-threaded Slack message.
type SlackMessageMeta struct {
	ChannelID   string         `json:"channelId"`
	ChannelName string         `json:"channelName,omitempty"`
	Timestamp   string         `json:"ts"`
	Permalink   string         `json:"permalink,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`
	Mentions    []string       `json:"mentions,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}

func (SlackMessageMeta) MetadataKind() string { return "slack.message" }

// SlackThreadMeta describes an aggregated Slack thread.
type SlackThreadMeta struct {
	ChannelID   string         `json:"channelId"`
	ChannelName string         `json:"channelName,omitempty"`
	ThreadTS    string         `json:"threadTs"`
	ReplyCount  int            `json:"replyCount"`
	Permalink   string         `json:"permalink,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`
	// ReactionUsers merges the distinct reacting users per emoji name.
	ReactionUsers map[string][]string `json:"reactionUsers,omitempty"`
	Mentions      []string            `json:"mentions,omitempty"`
	Attachments   []Attachment        `json:"attachments,omitempty"`
}

func (SlackThreadMeta) MetadataKind() string { return "slack.thread" }

// Attachment records a file attached to a message or thread. Skipped
// attachments keep their metadata with a human-readable reason.
type Attachment struct {
	ExternalID  string `json:"externalId"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes"`
	StorageKey  string `json:"storageKey,omitempty"`
	Skipped     bool   `json:"skipped,omitempty"`
	SkipReason  string `json:"skipReason,omitempty"`
	SourceURL   string `json:"sourceUrl,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// GitHubIssueMeta describes a GitHub issue.
type GitHubIssueMeta struct {
	Repo         string   `json:"repo"`
	Number       int      `json:"number"`
	State        string   `json:"state"`
	Labels       []string `json:"labels,omitempty"`
	Assignees    []string `json:"assignees,omitempty"`
	CommentCount int      `json:"commentCount"`
	HTMLURL      string   `json:"htmlUrl,omitempty"`
	LinkedIssues []int    `json:"linked_issues,omitempty"`
	LinkedPRs    []int    `json:"linked_prs,omitempty"`
}

func (GitHubIssueMeta) MetadataKind() string { return "github.issue" }

// GitHubPRMeta describes a GitHub pull request, including the heuristic
// code-context block extracted from its diff.
type GitHubPRMeta struct {
	Repo         string   `json:"repo"`
	Number       int      `json:"number"`
	State        string   `json:"state"`
	Draft        bool     `json:"draft,omitempty"`
	Merged       bool     `json:"merged,omitempty"`
	ReviewState  string   `json:"review_state,omitempty"`
	HeadBranch   string   `json:"headBranch,omitempty"`
	BaseBranch   string   `json:"baseBranch,omitempty"`
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	ChangedFiles int      `json:"changedFiles"`
	Labels       []string `json:"labels,omitempty"`
	Reviewers    []string `json:"reviewers,omitempty"`
	HTMLURL      string   `json:"htmlUrl,omitempty"`
	LinkedIssues []int    `json:"linked_issues,omitempty"`
	LinkedPRs    []int    `json:"linked_prs,omitempty"`

	SymbolChanges *SymbolChanges `json:"symbol_changes,omitempty"`
}

func (GitHubPRMeta) MetadataKind() string { return "github.pull_request" }

// SymbolChanges is the best-effort code-context extraction from TS/JS
// diff patches. Non-TS/JS files yield empty results.
type SymbolChanges struct {
	Added    []string `json:"added,omitempty"`
	Removed  []string `json:"removed,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Imports  []string `json:"imports,omitempty"`
}

// NotionPageMeta describes a Notion page and its position in the page
// hierarchy.
type NotionPageMeta struct {
	PageID         string `json:"pageId"`
	ParentType     string `json:"parentType,omitempty"`
	ParentID       string `json:"parentId,omitempty"`
	ParentExternal string `json:"parentExternal,omitempty"`
	Archived       bool   `json:"archived,omitempty"`
	URL            string `json:"url,omitempty"`
	Icon           string `json:"icon,omitempty"`
}

func (NotionPageMeta) MetadataKind() string { return "notion.page" }

// VideoMeta describes a transcribed video.
type VideoMeta struct {
	VideoID         string  `json:"videoId"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Language        string  `json:"language,omitempty"`
	SegmentCount    int     `json:"segmentCount,omitempty"`
	SourceURL       string  `json:"sourceUrl,omitempty"`
}

func (VideoMeta) MetadataKind() string { return "video.transcript" }

// UnknownMeta preserves metadata written by a newer or unrecognized
// variant so round-trips through the store are lossless.
type UnknownMeta struct {
	Kind string
	Raw  json.RawMessage
}

func (u UnknownMeta) MetadataKind() string { return u.Kind }

type metadataEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalMetadata encodes a variant with its kind discriminator.
func MarshalMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	if u, ok := m.(UnknownMeta); ok {
		return json.Marshal(metadataEnvelope{Kind: u.Kind, Data: u.Raw})
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata %s: %w", m.MetadataKind(), err)
	}
	return json.Marshal(metadataEnvelope{Kind: m.MetadataKind(), Data: data})
}

// UnmarshalMetadata decodes the discriminated envelope back into its
// concrete variant, falling back to UnknownMeta.
func UnmarshalMetadata(b []byte) (Metadata, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal metadata envelope: %w", err)
	}

	decode := func(target Metadata) (Metadata, error) {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return nil, fmt.Errorf("unmarshal metadata %s: %w", env.Kind, err)
		}
		return target, nil
	}

	switch env.Kind {
	case "slack.message":
		m, err := decode(&SlackMessageMeta{})
		if err != nil {
			return nil, err
		}
		return *m.(*SlackMessageMeta), nil
	case "slack.thread":
		m, err := decode(&SlackThreadMeta{})
		if err != nil {
			return nil, err
		}
		return *m.(*SlackThreadMeta), nil
	case "github.issue":
		m, err := decode(&GitHubIssueMeta{})
		if err != nil {
			return nil, err
		}
		return *m.(*GitHubIssueMeta), nil
	case "github.pull_request":
		m, err := decode(&GitHubPRMeta{})
		if err != nil {
			return nil, err
		}
		return *m.(*GitHubPRMeta), nil
	case "notion.page":
		m, err := decode(&NotionPageMeta{})
		if err != nil {
			return nil, err
		}
		return *m.(*NotionPageMeta), nil
	case "video.transcript":
		m, err := decode(&VideoMeta{})
		if err != nil {
			return nil, err
		}
		return *m.(*VideoMeta), nil
	default:
		return UnknownMeta{Kind: env.Kind, Raw: env.Data}, nil
	}
}
