// Package video syncs transcribed recordings from a transcript-provider
// REST API. Each video becomes one item with the full transcript as
// content and its time-coded segments as chunks.
package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/httpx"
	"github.com/crosswire-ai/crosswire/internal/model"
)

const defaultPageSize = 25

// Adapter implements adapter.SourceAdapter for transcript providers.
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

// New builds the video adapter.
func New(logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{logger: logger.With(zap.String("adapter", "video"))}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Type() model.SourceType { return model.SourceVideo }

func (a *Adapter) client(src *model.ContentSource, creds model.Credentials) *httpx.Client {
	return httpx.NewClient(httpx.Config{
		BaseURL:   src.Config.BaseURL,
		Auth:      httpx.HeaderKey{Header: "X-API-Key", Key: creds.APIKey},
		Transport: a.transport,
	})
}

func classify(err error) error {
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return &adapter.AuthError{Source: model.SourceVideo, Reason: fmt.Sprintf("status %d", apiErr.StatusCode)}
		}
	}
	return err
}

type video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	DurationSeconds float64   `json:"duration_seconds"`
	Language        string    `json:"language"`
	Status          string    `json:"status"`
	Speaker         string    `json:"speaker"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type videoListResponse struct {
	Videos []video `json:"videos"`
	Total  int     `json:"total"`
}

type segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker"`
}

type transcriptResponse struct {
	Segments []segment `json:"segments"`
}

// ValidateCredentials probes the video listing with a zero-size page.
func (a *Adapter) ValidateCredentials(ctx context.Context, src *model.ContentSource, creds model.Credentials) bool {
	q := url.Values{"limit": {"1"}, "offset": {"0"}}
	_, err := a.client(src, creds).Get(ctx, "/v1/videos", q, nil)
	if err != nil {
		a.logger.Debug("credential validation failed", zap.String("source_id", src.ID), zap.Error(err))
		return false
	}
	return true
}

// RefreshAuth is unsupported: provider API keys are static.
func (a *Adapter) RefreshAuth(_ context.Context, _ *model.ContentSource, _ model.Credentials) (model.Credentials, error) {
	return model.Credentials{}, adapter.ErrAuthNotRefreshable
}

// FetchContent returns one offset page of transcribed videos. The
// cursor is the numeric offset.
func (a *Adapter) FetchContent(ctx context.Context, src *model.ContentSource, creds model.Credentials, opts adapter.FetchOptions) (*adapter.FetchResult, error) {
	offset := 0
	if opts.Cursor != "" {
		n, err := strconv.Atoi(opts.Cursor)
		if err != nil {
			return nil, fmt.Errorf("video: malformed cursor %q", opts.Cursor)
		}
		offset = n
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}

	c := a.client(src, creds)
	q := url.Values{
		"limit":  {strconv.Itoa(pageSize)},
		"offset": {strconv.Itoa(offset)},
	}
	resp, err := c.Get(ctx, "/v1/videos", q, nil)
	if err != nil {
		return nil, classify(err)
	}
	var list videoListResponse
	if err := resp.JSON(&list); err != nil {
		return nil, fmt.Errorf("video: decode listing: %w", err)
	}

	var items []adapter.RawContentItem
	for _, v := range list.Videos {
		if v.Status != "transcribed" {
			continue
		}
		item, err := a.convertVideo(ctx, c, v)
		if err != nil {
			a.logger.Warn("video conversion failed", zap.String("video_id", v.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	next := offset + len(list.Videos)
	return &adapter.FetchResult{
		Items:      items,
		HasMore:    next < list.Total && len(list.Videos) > 0,
		NextCursor: strconv.Itoa(next),
	}, nil
}

// FetchItem refreshes one video by provider id.
func (a *Adapter) FetchItem(ctx context.Context, src *model.ContentSource, creds model.Credentials, externalID string) (*adapter.RawContentItem, error) {
	c := a.client(src, creds)
	resp, err := c.Get(ctx, "/v1/videos/"+externalID, nil, nil)
	if err != nil {
		var apiErr *httpx.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, adapter.ErrItemNotFound
		}
		return nil, classify(err)
	}
	var v video
	if err := resp.JSON(&v); err != nil {
		return nil, fmt.Errorf("video: decode video: %w", err)
	}
	item, err := a.convertVideo(ctx, c, v)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *Adapter) convertVideo(ctx context.Context, c *httpx.Client, v video) (adapter.RawContentItem, error) {
	resp, err := c.Get(ctx, "/v1/videos/"+v.ID+"/transcript", nil, nil)
	if err != nil {
		return adapter.RawContentItem{}, classify(err)
	}
	var tr transcriptResponse
	if err := resp.JSON(&tr); err != nil {
		return adapter.RawContentItem{}, fmt.Errorf("video: decode transcript: %w", err)
	}

	var (
		parts  []string
		chunks []adapter.RawChunk
		offset int
	)
	for i, seg := range tr.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		line := text
		if seg.Speaker != "" {
			line = seg.Speaker + ": " + text
		}
		parts = append(parts, line)

		start, end := seg.Start, seg.End
		chunks = append(chunks, adapter.RawChunk{
			Index:       i,
			Content:     line,
			StartOffset: offset,
			EndOffset:   offset + len(line),
			StartSecond: &start,
			EndSecond:   &end,
		})
		offset += len(line) + 1
	}

	content := strings.Join(parts, "\n")
	created := v.CreatedAt
	updated := v.UpdatedAt

	meta := model.VideoMeta{
		VideoID:         v.ID,
		DurationSeconds: v.DurationSeconds,
		Language:        v.Language,
		SegmentCount:    len(chunks),
		SourceURL:       v.URL,
	}

	var participants []adapter.Participant
	speakers := make(map[string]bool)
	if v.Speaker != "" {
		speakers[v.Speaker] = true
	}
	for _, seg := range tr.Segments {
		if seg.Speaker != "" {
			speakers[seg.Speaker] = true
		}
	}
	for name := range speakers {
		participants = append(participants, adapter.Participant{
			Role:       model.RoleSpeaker,
			ExternalID: name,
			Name:       name,
		})
	}

	return adapter.RawContentItem{
		Type:            model.TypeVideo,
		ExternalID:      v.ID,
		Title:           v.Title,
		Content:         content,
		SourceCreatedAt: &created,
		SourceUpdatedAt: &updated,
		Metadata:        meta,
		Tags:            []string{"video", "transcript"},
		Participants:    participants,
		Chunks:          chunks,
	}, nil
}
