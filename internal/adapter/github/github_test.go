package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/model"
)

type fakeGitHub struct {
	srv *httptest.Server

	issues   map[string][]ghIssue  // repo -> listing
	pulls    map[string]ghPull     // "repo#n"
	reviews  map[string][]ghReview // "repo#n"
	files    map[string][]ghFile
	comments map[string][]ghComment
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	f := &fakeGitHub{
		issues:   make(map[string][]ghIssue),
		pulls:    make(map[string]ghPull),
		reviews:  make(map[string][]ghReview),
		files:    make(map[string][]ghFile),
		comments: make(map[string][]ghComment),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ghp-good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"login":"bot"}`)
	})
	mux.HandleFunc("/repos/acme/api/issues", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.issues["acme/api"])
	})
	mux.HandleFunc("/repos/acme/api/issues/", func(w http.ResponseWriter, r *http.Request) {
		n, sub, ok := splitEntityPath(r.URL.Path, "/repos/acme/api/issues/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch sub {
		case "comments":
			json.NewEncoder(w).Encode(f.comments[key("acme/api", n)])
		case "":
			for _, is := range f.issues["acme/api"] {
				if is.Number == n {
					json.NewEncoder(w).Encode(is)
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	mux.HandleFunc("/repos/acme/api/pulls/", func(w http.ResponseWriter, r *http.Request) {
		n, sub, ok := splitEntityPath(r.URL.Path, "/repos/acme/api/pulls/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch sub {
		case "reviews":
			json.NewEncoder(w).Encode(f.reviews[key("acme/api", n)])
		case "files":
			json.NewEncoder(w).Encode(f.files[key("acme/api", n)])
		case "":
			json.NewEncoder(w).Encode(f.pulls[key("acme/api", n)])
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// splitEntityPath parses "<prefix><number>[/<sub>]".
func splitEntityPath(path, prefix string) (int, string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	numStr, sub, _ := strings.Cut(rest, "/")
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return 0, "", false
	}
	return n, sub, true
}

func key(repo string, n int) string { return fmt.Sprintf("%s#%d", repo, n) }

func (f *fakeGitHub) source() *model.ContentSource {
	return &model.ContentSource{
		ID:             "src-github",
		OrganizationID: "org-1",
		Type:           model.SourceGitHub,
		Config: model.SourceConfig{
			BaseURL:    f.srv.URL,
			Repos:      []string{"acme/api"},
			SyncIssues: true,
			SyncPRs:    true,
		},
	}
}

var ghCreds = model.Credentials{Token: "ghp-good"}

func TestValidateCredentials(t *testing.T) {
	f := newFakeGitHub(t)
	a := New(zap.NewNop())

	assert.True(t, a.ValidateCredentials(context.Background(), f.source(), ghCreds))
	assert.False(t, a.ValidateCredentials(context.Background(), f.source(), model.Credentials{Token: "bad"}))
}

func TestPullRequestEndToEnd(t *testing.T) {
	f := newFakeGitHub(t)
	now := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	f.issues["acme/api"] = []ghIssue{{
		Number: 42, Title: "Add retry budget", State: "open",
		User: ghUser{Login: "ana"}, UpdatedAt: now, CreatedAt: now.Add(-time.Hour),
		PullRequest: &struct {
			URL string `json:"url"`
		}{URL: "x"},
	}}
	f.pulls["acme/api#42"] = ghPull{
		Number: 42, Title: "Add retry budget", State: "open",
		Body:         "Implements the budget. Closes #17 and relates to https://github.com/acme/api/pull/30",
		User:         ghUser{Login: "ana"},
		Additions:    120, Deletions: 40, ChangedFiles: 3,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
	}
	f.reviews["acme/api#42"] = []ghReview{
		{User: ghUser{Login: "ben"}, State: "APPROVED"},
		{User: ghUser{Login: "cho"}, State: "CHANGES_REQUESTED"},
	}
	f.files["acme/api#42"] = []ghFile{
		{Filename: "src/retry.ts", Status: "modified", Additions: 100, Deletions: 30, Patch: "@@ -1,4 +1,6 @@\n+import { clock } from './clock'\n-export function retryNow(x) {\n+export function retryNow(x, budget) {\n+export function budgetLeft() {"},
		{Filename: "docs/retry.md", Status: "added", Additions: 20, Deletions: 10},
	}
	f.comments["acme/api#42"] = []ghComment{
		{User: ghUser{Login: "ben"}, Body: "nice"},
	}

	a := New(zap.NewNop())
	res, err := a.FetchContent(context.Background(), f.source(), ghCreds, adapter.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	pr := res.Items[0]
	assert.Equal(t, model.TypePullReq, pr.Type)
	assert.Equal(t, "acme/api#42", pr.ExternalID)

	meta, ok := pr.Metadata.(model.GitHubPRMeta)
	require.True(t, ok)
	// changes_requested wins over approved.
	assert.Equal(t, "changes_requested", meta.ReviewState)
	assert.Equal(t, 120, meta.Additions)
	assert.Equal(t, 40, meta.Deletions)
	assert.Equal(t, 3, meta.ChangedFiles)
	assert.Equal(t, []string{"ben", "cho"}, meta.Reviewers)
	assert.Equal(t, []int{17}, meta.LinkedIssues)
	assert.Equal(t, []int{30}, meta.LinkedPRs)

	require.NotNil(t, meta.SymbolChanges)
	assert.Equal(t, []string{"budgetLeft"}, meta.SymbolChanges.Added)
	assert.Equal(t, []string{"retryNow"}, meta.SymbolChanges.Modified)
	assert.Equal(t, []string{"./clock"}, meta.SymbolChanges.Imports)

	// One author plus two distinct reviewers.
	require.Len(t, pr.Participants, 3)
	assert.Equal(t, model.RoleAuthor, pr.Participants[0].Role)
	assert.Equal(t, "ana", pr.Participants[0].ExternalID)
	assert.Equal(t, model.RoleReviewer, pr.Participants[1].Role)
	assert.Equal(t, model.RoleReviewer, pr.Participants[2].Role)

	// The assembled document carries all sections.
	assert.Contains(t, pr.Content, "## Description")
	assert.Contains(t, pr.Content, "`src/retry.ts` (modified, +100/-30)")
	assert.Contains(t, pr.Content, "cho: changes_requested")
	assert.Contains(t, pr.Content, "**ben**: nice")

	// Per-repo since cursor advances to the max updated_at.
	assert.Equal(t, now.Format(time.RFC3339), res.SubCursorUpdates["acme/api"])
}

func TestIssueConversionAndToggles(t *testing.T) {
	f := newFakeGitHub(t)
	now := time.Now().UTC().Truncate(time.Second)
	f.issues["acme/api"] = []ghIssue{
		{Number: 7, Title: "Crash on boot", Body: "See #5", State: "open",
			User: ghUser{Login: "dev"}, Labels: []ghLabel{{Name: "bug"}},
			Assignees: []ghUser{{Login: "ana"}}, Comments: 2, UpdatedAt: now},
	}

	a := New(zap.NewNop())
	res, err := a.FetchContent(context.Background(), f.source(), ghCreds, adapter.FetchOptions{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	issue := res.Items[0]
	assert.Equal(t, model.TypeIssue, issue.Type)
	meta := issue.Metadata.(model.GitHubIssueMeta)
	assert.Equal(t, []string{"bug"}, meta.Labels)
	assert.Equal(t, []int{5}, meta.LinkedIssues)
	assert.Equal(t, 2, meta.CommentCount)
	require.Len(t, issue.Participants, 2)
	assert.Equal(t, model.RoleAssignee, issue.Participants[1].Role)

	// Issues toggled off: nothing synced.
	src := f.source()
	src.Config.SyncIssues = false
	res, err = a.FetchContent(context.Background(), src, ghCreds, adapter.FetchOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestSinceCursorPassedThrough(t *testing.T) {
	f := newFakeGitHub(t)
	var gotSince string
	orig := f.srv.Config.Handler
	f.srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/acme/api/issues" {
			gotSince = r.URL.Query().Get("since")
		}
		orig.ServeHTTP(w, r)
	})

	a := New(zap.NewNop())
	_, err := a.FetchContent(context.Background(), f.source(), ghCreds, adapter.FetchOptions{
		SubCursors: map[string]string{"acme/api": "2026-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", gotSince)
}

func TestFetchItemNotFound(t *testing.T) {
	f := newFakeGitHub(t)
	a := New(zap.NewNop())

	_, err := a.FetchItem(context.Background(), f.source(), ghCreds, "acme/api#999")
	assert.ErrorIs(t, err, adapter.ErrItemNotFound)
}
