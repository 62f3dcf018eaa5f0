// Package slack syncs Slack workspaces: channel messages, aggregated
// threads, reactions, and file attachments.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/httpx"
	"github.com/crosswire-ai/crosswire/internal/model"
	"github.com/crosswire-ai/crosswire/internal/objectstore"
)

const (
	defaultBaseURL = "https://slack.com/api"

	// defaultPageSize is the conversations.history page size; Slack caps
	// at 1000 but recommends at most 200.
	defaultPageSize = 200

	// maxAttachmentBytes is the upload cutoff; larger files keep their
	// metadata with skipped=true.
	maxAttachmentBytes = 10 << 20

	// replyFetchConcurrency bounds parallel conversations.replies calls
	// within one history page.
	replyFetchConcurrency = 10
)

type userInfo struct {
	Name  string
	Email string
	IsBot bool
}

// Adapter implements adapter.SourceAdapter for Slack.
type Adapter struct {
	logger  *zap.Logger
	objects objectstore.ObjectStore

	// transport is injected by tests; nil uses the default transport.
	transport http.RoundTripper

	mu    sync.Mutex
	users map[string]map[string]userInfo // sourceID -> userID -> info
}

var _ adapter.SourceAdapter = (*Adapter)(nil)

// Option configures the adapter.
type Option func(*Adapter)

// WithObjectStore enables attachment upload.
func WithObjectStore(os objectstore.ObjectStore) Option {
	return func(a *Adapter) { a.objects = os }
}

// WithTransport injects an HTTP transport, used by tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(a *Adapter) { a.transport = rt }
}

// New builds the Slack adapter.
func New(logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		logger: logger.With(zap.String("adapter", "slack")),
		users:  make(map[string]map[string]userInfo),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Type() model.SourceType { return model.SourceSlack }

func (a *Adapter) client(src *model.ContentSource, creds model.Credentials) *httpx.Client {
	base := src.Config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return httpx.NewClient(httpx.Config{
		BaseURL:   base,
		Auth:      httpx.BearerToken{Token: creds.Token},
		Transport: a.transport,
	})
}

// call runs a GET API method and decodes the ok/error envelope.
func call[T any](ctx context.Context, c *httpx.Client, method string, q url.Values, out *T) error {
	resp, err := c.Get(ctx, "/"+method, q, nil)
	if err != nil {
		return fmt.Errorf("slack: %s: %w", method, err)
	}
	return decodeEnvelope(method, resp, out)
}

// postCall runs a form-POST API method; auth.test and the write-style
// Web API methods take form bodies rather than query strings.
func postCall[T any](ctx context.Context, c *httpx.Client, method string, form url.Values, out *T) error {
	resp, err := c.PostForm(ctx, "/"+method, form)
	if err != nil {
		return fmt.Errorf("slack: %s: %w", method, err)
	}
	return decodeEnvelope(method, resp, out)
}

func decodeEnvelope[T any](method string, resp *httpx.Response, out *T) error {
	if err := resp.JSON(out); err != nil {
		return fmt.Errorf("slack: %s: decode: %w", method, err)
	}
	if env, ok := any(out).(interface{ envelope() apiResponse }); ok {
		if e := env.envelope(); !e.OK {
			return apiError(method, e.Error)
		}
	}
	return nil
}

func (r apiResponse) envelope() apiResponse { return r }

func apiError(method, code string) error {
	switch code {
	case "invalid_auth", "token_revoked", "token_expired", "account_inactive", "not_authed":
		return &adapter.AuthError{Source: model.SourceSlack, Reason: code}
	}
	return fmt.Errorf("slack: %s: %s", method, code)
}

// ValidateCredentials probes auth.test.
func (a *Adapter) ValidateCredentials(ctx context.Context, src *model.ContentSource, creds model.Credentials) bool {
	var resp authTestResponse
	if err := postCall(ctx, a.client(src, creds), "auth.test", nil, &resp); err != nil {
		a.logger.Debug("credential validation failed", zap.String("source_id", src.ID), zap.Error(err))
		return false
	}
	return true
}

// RefreshAuth is unsupported: bot tokens do not expire.
func (a *Adapter) RefreshAuth(_ context.Context, _ *model.ContentSource, _ model.Credentials) (model.Credentials, error) {
	return model.Credentials{}, adapter.ErrAuthNotRefreshable
}

// userDirectory returns the workspace user map, fetching and caching it
// on first use per source.
func (a *Adapter) userDirectory(ctx context.Context, c *httpx.Client, sourceID string) (map[string]userInfo, error) {
	a.mu.Lock()
	if cached, ok := a.users[sourceID]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	dir := make(map[string]userInfo)
	cursor := ""
	for {
		q := url.Values{"limit": {"200"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp usersListResponse
		if err := call(ctx, c, "users.list", q, &resp); err != nil {
			return nil, err
		}
		for _, m := range resp.Members {
			if m.Deleted {
				continue
			}
			name := m.Profile.DisplayName
			if name == "" {
				name = m.Profile.RealName
			}
			if name == "" {
				name = m.Name
			}
			dir[m.ID] = userInfo{Name: name, Email: m.Profile.Email, IsBot: m.IsBot}
		}
		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			break
		}
	}

	a.mu.Lock()
	a.users[sourceID] = dir
	a.mu.Unlock()
	return dir, nil
}

// listChannels snapshots the channels to sync, honoring the config
// channel filter and skipping archived channels the bot is not in.
func (a *Adapter) listChannels(ctx context.Context, c *httpx.Client, src *model.ContentSource) ([]channel, error) {
	allowed := make(map[string]bool, len(src.Config.Channels))
	for _, id := range src.Config.Channels {
		allowed[id] = true
	}

	var out []channel
	cursor := ""
	for {
		q := url.Values{
			"types":            {"public_channel,private_channel"},
			"exclude_archived": {"true"},
			"limit":            {"200"},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp conversationsListResponse
		if err := call(ctx, c, "conversations.list", q, &resp); err != nil {
			return nil, err
		}
		for _, ch := range resp.Channels {
			if ch.IsArchived || !ch.IsMember {
				continue
			}
			if len(allowed) > 0 && !allowed[ch.ID] {
				continue
			}
			out = append(out, ch)
		}
		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			break
		}
	}
	return out, nil
}
