package github

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/httpx"
	"github.com/crosswire-ai/crosswire/internal/model"
)

const (
	// maxCommentChars caps the comment section of the assembled PR
	// document.
	maxCommentChars = 4000
	maxListedFiles  = 50
)

// convertPull assembles a pull request into one markdown document:
// description, changed-file summary, review states, and truncated
// comments. Review and symbol data land in metadata.
func (a *Adapter) convertPull(ctx context.Context, c *httpx.Client, repo string, number int) (adapter.RawContentItem, error) {
	var pull ghPull
	if err := a.getJSON(ctx, c, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), &pull); err != nil {
		return adapter.RawContentItem{}, err
	}

	var reviews []ghReview
	if err := a.getJSON(ctx, c, fmt.Sprintf("/repos/%s/pulls/%d/reviews", repo, number), &reviews); err != nil {
		return adapter.RawContentItem{}, err
	}

	var files []ghFile
	if err := a.getJSON(ctx, c, fmt.Sprintf("/repos/%s/pulls/%d/files", repo, number), &files); err != nil {
		return adapter.RawContentItem{}, err
	}

	var comments []ghComment
	if err := a.getJSON(ctx, c, fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number), &comments); err != nil {
		return adapter.RawContentItem{}, err
	}

	doc := assemblePullDocument(pull, reviews, files, comments)
	symbols := extractSymbols(files)
	issues, prs := extractRefs(repo, pull.Body+"\n"+pull.Title)

	meta := model.GitHubPRMeta{
		Repo:          repo,
		Number:        pull.Number,
		State:         pull.State,
		Draft:         pull.Draft,
		Merged:        pull.Merged,
		ReviewState:   resolveReviewState(reviews),
		HeadBranch:    pull.Head.Ref,
		BaseBranch:    pull.Base.Ref,
		Additions:     pull.Additions,
		Deletions:     pull.Deletions,
		ChangedFiles:  pull.ChangedFiles,
		Labels:        labelNames(pull.Labels),
		Reviewers:     reviewerLogins(reviews, pull.User.Login),
		HTMLURL:       pull.HTMLURL,
		LinkedIssues:  issues,
		LinkedPRs:     prs,
		SymbolChanges: symbols,
	}

	created := pull.CreatedAt
	updated := pull.UpdatedAt
	return adapter.RawContentItem{
		Type:             model.TypePullReq,
		ExternalID:       fmt.Sprintf("%s#%d", repo, pull.Number),
		Title:            pull.Title,
		Content:          doc,
		RichContent:      doc,
		AuthorExternalID: pull.User.Login,
		AuthorName:       pull.User.Login,
		SourceCreatedAt:  &created,
		SourceUpdatedAt:  &updated,
		Metadata:         meta,
		Tags:             append([]string{"github", "pull_request"}, labelNames(pull.Labels)...),
		Participants:     pullParticipants(pull, reviews),
	}, nil
}

func (a *Adapter) getJSON(ctx context.Context, c *httpx.Client, path string, out any) error {
	resp, err := c.Get(ctx, path, url.Values{"per_page": {"100"}}, nil)
	if err != nil {
		return classify(err)
	}
	if err := resp.JSON(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

func assemblePullDocument(pull ghPull, reviews []ghReview, files []ghFile, comments []ghComment) string {
	var b strings.Builder

	b.WriteString("## Description\n\n")
	if body := strings.TrimSpace(pull.Body); body != "" {
		b.WriteString(body)
	} else {
		b.WriteString("_No description provided._")
	}
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("## Changes (%d files, +%d/-%d)\n\n",
		pull.ChangedFiles, pull.Additions, pull.Deletions))
	for i, f := range files {
		if i == maxListedFiles {
			b.WriteString(fmt.Sprintf("- ... and %d more files\n", len(files)-maxListedFiles))
			break
		}
		b.WriteString(fmt.Sprintf("- `%s` (%s, +%d/-%d)\n", f.Filename, f.Status, f.Additions, f.Deletions))
	}
	b.WriteString("\n")

	if len(reviews) > 0 {
		b.WriteString("## Reviews\n\n")
		for _, r := range reviews {
			b.WriteString(fmt.Sprintf("- %s: %s\n", r.User.Login, strings.ToLower(r.State)))
		}
		b.WriteString("\n")
	}

	if len(comments) > 0 {
		b.WriteString("## Comments\n\n")
		written := 0
		for _, cm := range comments {
			entry := fmt.Sprintf("**%s**: %s\n\n", cm.User.Login, strings.TrimSpace(cm.Body))
			if written+len(entry) > maxCommentChars {
				b.WriteString("_Further comments truncated._\n")
				break
			}
			b.WriteString(entry)
			written += len(entry)
		}
	}

	return strings.TrimSpace(b.String())
}

// resolveReviewState reduces per-reviewer states with the precedence
// changes_requested > approved > commented.
func resolveReviewState(reviews []ghReview) string {
	// Later reviews supersede earlier ones from the same reviewer.
	latest := make(map[string]string)
	for _, r := range reviews {
		if r.State == "DISMISSED" {
			delete(latest, r.User.Login)
			continue
		}
		latest[r.User.Login] = r.State
	}

	state := ""
	for _, s := range latest {
		switch s {
		case "CHANGES_REQUESTED":
			return "changes_requested"
		case "APPROVED":
			state = "approved"
		case "COMMENTED":
			if state == "" {
				state = "commented"
			}
		}
	}
	return state
}

func reviewerLogins(reviews []ghReview, author string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range reviews {
		login := r.User.Login
		if login == "" || login == author || seen[login] {
			continue
		}
		seen[login] = true
		out = append(out, login)
	}
	sort.Strings(out)
	return out
}

// pullParticipants yields one author plus distinct reviewers and
// assignees.
func pullParticipants(pull ghPull, reviews []ghReview) []adapter.Participant {
	out := []adapter.Participant{{
		Role:       model.RoleAuthor,
		ExternalID: pull.User.Login,
		Name:       pull.User.Login,
	}}
	for _, login := range reviewerLogins(reviews, pull.User.Login) {
		out = append(out, adapter.Participant{
			Role:       model.RoleReviewer,
			ExternalID: login,
			Name:       login,
		})
	}
	seen := make(map[string]bool)
	for _, p := range out {
		seen[p.ExternalID+"/"+string(p.Role)] = true
	}
	for _, u := range pull.Assignees {
		key := u.Login + "/" + string(model.RoleAssignee)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, adapter.Participant{
			Role:       model.RoleAssignee,
			ExternalID: u.Login,
			Name:       u.Login,
		})
	}
	return out
}
