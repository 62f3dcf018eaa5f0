// Package github syncs GitHub repositories: issues and pull requests
// with reviews, comments, diff-derived code context, and cross-repo
// reference extraction.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/httpx"
	"github.com/crosswire-ai/crosswire/internal/model"
)

const (
	defaultBaseURL  = "https://api.github.com"
	defaultPageSize = 50

	// convertConcurrency bounds parallel PR detail fetches within one
	// listing page.
	convertConcurrency = 10
)

// Adapter implements adapter.SourceAdapter for GitHub.
type Adapter struct {
	logger    *zap.Logger
	transport http.RoundTripper
}

var _ adapter.SourceAdapter = (*Adapter)(nil)

// Option configures the adapter.
type Option func(*Adapter)

// WithTransport injects an HTTP transport, used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Adapter) { a.transport = rt }
}

// New builds the GitHub adapter.
func New(logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{logger: logger.With(zap.String("adapter", "github"))}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Type() model.SourceType { return model.SourceGitHub }

func (a *Adapter) client(src *model.ContentSource, creds model.Credentials) *httpx.Client {
	base := src.Config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return httpx.NewClient(httpx.Config{
		BaseURL: base,
		Auth:    httpx.BearerToken{Token: creds.Token},
		Headers: map[string]string{
			"Accept":               "application/vnd.github+json",
			"X-GitHub-Api-Version": "2022-11-28",
		},
		Transport: a.transport,
	})
}

func classify(err error) error {
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return &adapter.AuthError{Source: model.SourceGitHub, Reason: fmt.Sprintf("status %d", apiErr.StatusCode)}
		}
	}
	return err
}

// ValidateCredentials probes GET /user.
func (a *Adapter) ValidateCredentials(ctx context.Context, src *model.ContentSource, creds model.Credentials) bool {
	_, err := a.client(src, creds).Get(ctx, "/user", nil, nil)
	if err != nil {
		a.logger.Debug("credential validation failed", zap.String("source_id", src.ID), zap.Error(err))
		return false
	}
	return true
}

// RefreshAuth is unsupported for personal access tokens.
func (a *Adapter) RefreshAuth(_ context.Context, _ *model.ContentSource, _ model.Credentials) (model.Credentials, error) {
	return model.Credentials{}, adapter.ErrAuthNotRefreshable
}

// FetchContent returns one issues-listing page of one repo, converting
// issues and pull requests according to the source's config toggles.
func (a *Adapter) FetchContent(ctx context.Context, src *model.ContentSource, creds model.Credentials, opts adapter.FetchOptions) (*adapter.FetchResult, error) {
	if len(src.Config.Repos) == 0 {
		return &adapter.FetchResult{HasMore: false}, nil
	}

	cur, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		cur = &syncCursor{Repos: append([]string(nil), src.Config.Repos...), Page: 1}
	}
	if cur.done() {
		return &adapter.FetchResult{HasMore: false}, nil
	}

	repo := cur.current()
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}

	q := url.Values{
		"state":     {"all"},
		"sort":      {"updated"},
		"direction": {"asc"},
		"per_page":  {strconv.Itoa(pageSize)},
		"page":      {strconv.Itoa(cur.Page)},
	}
	if since := sinceBound(opts, repo); since != "" {
		q.Set("since", since)
	}

	c := a.client(src, creds)
	resp, err := c.Get(ctx, "/repos/"+repo+"/issues", q, nil)
	if err != nil {
		return nil, classify(err)
	}
	var listing []ghIssue
	if err := resp.JSON(&listing); err != nil {
		return nil, fmt.Errorf("github: decode issues: %w", err)
	}

	items, maxUpdated := a.convertPage(ctx, c, src, repo, listing)

	cur.advance(len(listing) == pageSize)
	res := &adapter.FetchResult{
		Items:      items,
		HasMore:    !cur.done(),
		NextCursor: cur.encode(),
	}
	if !maxUpdated.IsZero() {
		res.SubCursorUpdates = map[string]string{repo: maxUpdated.UTC().Format(time.RFC3339)}
	}
	return res, nil
}

func sinceBound(opts adapter.FetchOptions, repo string) string {
	if since, ok := opts.SubCursors[repo]; ok && since != "" {
		return since
	}
	if opts.Since != nil {
		return opts.Since.UTC().Format(time.RFC3339)
	}
	return ""
}

// convertPage maps a listing page, fetching PR details with bounded
// concurrency. Per-entry failures are logged and skipped.
func (a *Adapter) convertPage(ctx context.Context, c *httpx.Client, src *model.ContentSource, repo string, listing []ghIssue) ([]adapter.RawContentItem, time.Time) {
	type slot struct {
		item adapter.RawContentItem
		ok   bool
	}
	slots := make([]slot, len(listing))
	var maxUpdated time.Time

	var wg sync.WaitGroup
	sem := make(chan struct{}, convertConcurrency)

	for i, entry := range listing {
		if entry.UpdatedAt.After(maxUpdated) {
			maxUpdated = entry.UpdatedAt
		}
		isPR := entry.PullRequest != nil
		if isPR && !src.Config.SyncPRs {
			continue
		}
		if !isPR && !src.Config.SyncIssues {
			continue
		}

		wg.Add(1)
		go func(i int, entry ghIssue) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var (
				item adapter.RawContentItem
				err  error
			)
			if entry.PullRequest != nil {
				item, err = a.convertPull(ctx, c, repo, entry.Number)
			} else {
				item = convertIssue(repo, entry)
			}
			if err != nil {
				a.logger.Warn("entry conversion failed",
					zap.String("repo", repo), zap.Int("number", entry.Number), zap.Error(err))
				return
			}
			slots[i] = slot{item: item, ok: true}
		}(i, entry)
	}
	wg.Wait()

	var items []adapter.RawContentItem
	for _, s := range slots {
		if s.ok {
			items = append(items, s.item)
		}
	}
	return items, maxUpdated
}

// FetchItem refreshes one entry, keyed "owner/repo#number".
func (a *Adapter) FetchItem(ctx context.Context, src *model.ContentSource, creds model.Credentials, externalID string) (*adapter.RawContentItem, error) {
	repo, numStr, ok := strings.Cut(externalID, "#")
	if !ok {
		return nil, fmt.Errorf("github: malformed external id %q", externalID)
	}
	number, err := strconv.Atoi(numStr)
	if err != nil {
		return nil, fmt.Errorf("github: malformed external id %q", externalID)
	}

	c := a.client(src, creds)
	resp, err := c.Get(ctx, fmt.Sprintf("/repos/%s/issues/%d", repo, number), nil, nil)
	if err != nil {
		var apiErr *httpx.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, adapter.ErrItemNotFound
		}
		return nil, classify(err)
	}
	var entry ghIssue
	if err := resp.JSON(&entry); err != nil {
		return nil, fmt.Errorf("github: decode issue: %w", err)
	}

	if entry.PullRequest != nil {
		item, err := a.convertPull(ctx, c, repo, entry.Number)
		if err != nil {
			return nil, err
		}
		return &item, nil
	}
	item := convertIssue(repo, entry)
	return &item, nil
}

func convertIssue(repo string, entry ghIssue) adapter.RawContentItem {
	created := entry.CreatedAt
	updated := entry.UpdatedAt
	issues, prs := extractRefs(repo, entry.Body)

	meta := model.GitHubIssueMeta{
		Repo:         repo,
		Number:       entry.Number,
		State:        entry.State,
		Labels:       labelNames(entry.Labels),
		Assignees:    logins(entry.Assignees),
		CommentCount: entry.Comments,
		HTMLURL:      entry.HTMLURL,
		LinkedIssues: issues,
		LinkedPRs:    prs,
	}

	participants := []adapter.Participant{{
		Role:       model.RoleAuthor,
		ExternalID: entry.User.Login,
		Name:       entry.User.Login,
	}}
	for _, u := range entry.Assignees {
		participants = append(participants, adapter.Participant{
			Role:       model.RoleAssignee,
			ExternalID: u.Login,
			Name:       u.Login,
		})
	}

	return adapter.RawContentItem{
		Type:             model.TypeIssue,
		ExternalID:       fmt.Sprintf("%s#%d", repo, entry.Number),
		Title:            entry.Title,
		Content:          entry.Body,
		AuthorExternalID: entry.User.Login,
		AuthorName:       entry.User.Login,
		SourceCreatedAt:  &created,
		SourceUpdatedAt:  &updated,
		Metadata:         meta,
		Tags:             append([]string{"github", "issue"}, labelNames(entry.Labels)...),
		Participants:     participants,
	}
}

func labelNames(labels []ghLabel) []string {
	var out []string
	for _, l := range labels {
		out = append(out, l.Name)
	}
	return out
}

func logins(users []ghUser) []string {
	var out []string
	for _, u := range users {
		out = append(out, u.Login)
	}
	return out
}
