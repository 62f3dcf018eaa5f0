package syncer

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
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
	"github.com/crosswire-ai/crosswire/internal/store"
)

const (
	slackSecret  = "slack-signing-secret"
	githubSecret = "github-webhook-secret"
)

func newWebhookFixture(t *testing.T) (*WebhookServer, *fakeAdapter, *store.MemoryStore, string) {
	t.Helper()
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceSlack, model.Credentials{Token: "tok"})

	fa := &fakeAdapter{
		typ: model.SourceSlack,
		items: map[string]adapter.RawContentItem{
			"C1:42.0": rawItem("C1:42.0", "refreshed thread"),
		},
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())
	ws := NewWebhookServer(sy, zap.NewNop(), slackSecret, githubSecret)
	return ws, fa, s, src.ID
}

func signSlack(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func slackRequest(t *testing.T, srv *httptest.Server, sourceID, secret string, body string) *http.Response {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/slack/"+sourceID, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", signSlack(secret, ts, []byte(body)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSlackURLVerification(t *testing.T) {
	ws, _, _, sourceID := newWebhookFixture(t)
	srv := httptest.NewServer(ws.Routes())
	defer srv.Close()

	resp := slackRequest(t, srv, sourceID, slackSecret, `{"type":"url_verification","challenge":"chal-123"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "chal-123", string(body))
}

func TestSlackEventRefreshesItem(t *testing.T) {
	ws, _, s, sourceID := newWebhookFixture(t)
	srv := httptest.NewServer(ws.Routes())
	defer srv.Close()

	payload := `{"type":"event_callback","event":{"type":"message","channel":"C1","ts":"99.0","thread_ts":"42.0"}}`
	resp := slackRequest(t, srv, sourceID, slackSecret, payload)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	item, err := s.GetItemByExternalID(context.Background(), sourceID, "C1:42.0")
	require.NoError(t, err)
	assert.Equal(t, "refreshed thread", item.Content)
}

func TestSlackBadSignatureRejected(t *testing.T) {
	ws, _, s, sourceID := newWebhookFixture(t)
	srv := httptest.NewServer(ws.Routes())
	defer srv.Close()

	payload := `{"type":"event_callback","event":{"type":"message","channel":"C1","ts":"42.0"}}`
	resp := slackRequest(t, srv, sourceID, "wrong-secret", payload)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, err := s.GetItemByExternalID(context.Background(), sourceID, "C1:42.0")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSlackStaleTimestampRejected(t *testing.T) {
	ws, _, _, sourceID := newWebhookFixture(t)
	srv := httptest.NewServer(ws.Routes())
	defer srv.Close()

	body := `{"type":"event_callback"}`
	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/slack/"+sourceID, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", signSlack(slackSecret, ts, []byte(body)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGitHubEventRefreshesItem(t *testing.T) {
	s := store.NewMemoryStore()
	box := testBox(t)
	src := seedSource(t, s, box, model.SourceGitHub, model.Credentials{Token: "tok"})

	fa := &fakeAdapter{
		typ: model.SourceGitHub,
		items: map[string]adapter.RawContentItem{
			"acme/api#7": rawItem("acme/api#7", "issue body"),
		},
	}
	sy := New(s, adapter.NewRegistry(fa), box, &recordingQueue{}, zap.NewNop())
	ws := NewWebhookServer(sy, zap.NewNop(), slackSecret, githubSecret)
	srv := httptest.NewServer(ws.Routes())
	defer srv.Close()

	body := `{"action":"edited","issue":{"number":7},"repository":{"full_name":"acme/api"}}`
	mac := hmac.New(sha256.New, []byte(githubSecret))
	mac.Write([]byte(body))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/github/"+src.ID, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	item, err := s.GetItemByExternalID(context.Background(), src.ID, "acme/api#7")
	require.NoError(t, err)
	assert.Equal(t, "issue body", item.Content)
}

func TestGitHubBadSignatureRejected(t *testing.T) {
	ws, _, _, sourceID := newWebhookFixture(t)
	srv := httptest.NewServer(ws.Routes())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhooks/github/"+sourceID, strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
