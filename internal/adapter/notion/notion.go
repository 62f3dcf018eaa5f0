// Package notion syncs Notion workspaces: pages discovered through the
// search endpoint, with block content flattened to plain text and the
// page hierarchy recorded in metadata.
package notion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/httpx"
	"github.com/crosswire-ai/crosswire/internal/model"
)

const (
	defaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	defaultPageSize = 50

	// maxBlockDepth bounds recursion into nested blocks.
	maxBlockDepth = 3
)

// Adapter implements adapter.SourceAdapter for Notion.
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

// New builds the Notion adapter.
func New(logger *zap.Logger, opts ...Option) *Adapter {
	a := &Adapter{logger: logger.With(zap.String("adapter", "notion"))}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Type() model.SourceType { return model.SourceNotion }

func (a *Adapter) client(src *model.ContentSource, creds model.Credentials) *httpx.Client {
	base := src.Config.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return httpx.NewClient(httpx.Config{
		BaseURL:   base,
		Auth:      httpx.BearerToken{Token: creds.Token},
		Headers:   map[string]string{"Notion-Version": apiVersion},
		Transport: a.transport,
	})
}

func classify(err error) error {
	var apiErr *httpx.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return &adapter.AuthError{Source: model.SourceNotion, Reason: "unauthorized"}
	}
	return err
}

// ValidateCredentials probes GET /v1/users/me.
func (a *Adapter) ValidateCredentials(ctx context.Context, src *model.ContentSource, creds model.Credentials) bool {
	_, err := a.client(src, creds).Get(ctx, "/v1/users/me", nil, nil)
	if err != nil {
		a.logger.Debug("credential validation failed", zap.String("source_id", src.ID), zap.Error(err))
		return false
	}
	return true
}

// RefreshAuth is unsupported: internal integration tokens do not expire.
func (a *Adapter) RefreshAuth(_ context.Context, _ *model.ContentSource, _ model.Credentials) (model.Credentials, error) {
	return model.Credentials{}, adapter.ErrAuthNotRefreshable
}

// FetchContent returns one search page of pages, sorted by last edit
// descending. Pages at or before the stored high-water mark are
// filtered out client-side; the search API has no since parameter.
func (a *Adapter) FetchContent(ctx context.Context, src *model.ContentSource, creds model.Credentials, opts adapter.FetchOptions) (*adapter.FetchResult, error) {
	c := a.client(src, creds)

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = defaultPageSize
	}
	req := searchRequest{
		Filter:   &searchFilter{Property: "object", Value: "page"},
		Sort:     &searchSort{Direction: "descending", Timestamp: "last_edited_time"},
		PageSize: pageSize,
	}
	if opts.Cursor != "" {
		req.StartCursor = opts.Cursor
	}

	resp, err := c.PostJSON(ctx, "/v1/search", req)
	if err != nil {
		return nil, classify(err)
	}
	var sr searchResponse
	if err := resp.JSON(&sr); err != nil {
		return nil, fmt.Errorf("notion: decode search: %w", err)
	}

	watermark := parseWatermark(opts.SubCursors["default"])

	var (
		items   []adapter.RawContentItem
		maxEdit time.Time
		stale   bool
	)
	for _, page := range sr.Results {
		if page.Object != "page" || page.Archived {
			continue
		}
		if page.LastEditedTime.After(maxEdit) {
			maxEdit = page.LastEditedTime
		}
		if watermark != nil && !page.LastEditedTime.After(*watermark) {
			// Descending sort: everything after this is older too.
			stale = true
			break
		}
		item, err := a.convertPage(ctx, c, page)
		if err != nil {
			a.logger.Warn("page conversion failed", zap.String("page_id", page.ID), zap.Error(err))
			continue
		}
		items = append(items, item)
	}

	res := &adapter.FetchResult{
		Items:      items,
		HasMore:    sr.HasMore && !stale,
		NextCursor: sr.NextCursor,
	}
	if !maxEdit.IsZero() {
		prev := ""
		if watermark != nil {
			prev = watermark.Format(time.RFC3339Nano)
		}
		if mark := maxEdit.UTC().Format(time.RFC3339Nano); mark > prev {
			res.SubCursorUpdates = map[string]string{"default": mark}
		}
	}
	return res, nil
}

func parseWatermark(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// FetchItem refreshes one page by id.
func (a *Adapter) FetchItem(ctx context.Context, src *model.ContentSource, creds model.Credentials, externalID string) (*adapter.RawContentItem, error) {
	c := a.client(src, creds)
	resp, err := c.Get(ctx, "/v1/pages/"+externalID, nil, nil)
	if err != nil {
		var apiErr *httpx.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, adapter.ErrItemNotFound
		}
		return nil, classify(err)
	}
	var p page
	if err := resp.JSON(&p); err != nil {
		return nil, fmt.Errorf("notion: decode page: %w", err)
	}
	item, err := a.convertPage(ctx, c, p)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (a *Adapter) convertPage(ctx context.Context, c *httpx.Client, p page) (adapter.RawContentItem, error) {
	text, err := a.flattenBlocks(ctx, c, p.ID, 0)
	if err != nil {
		return adapter.RawContentItem{}, err
	}

	parentType, parentID := p.Parent.ref()
	meta := model.NotionPageMeta{
		PageID:     p.ID,
		ParentType: parentType,
		ParentID:   parentID,
		Archived:   p.Archived,
		URL:        p.URL,
		Icon:       p.Icon.Emoji,
	}

	created := p.CreatedTime
	updated := p.LastEditedTime
	title := p.title()

	return adapter.RawContentItem{
		Type:             model.TypeDocument,
		ExternalID:       p.ID,
		Title:            title,
		Content:          text,
		AuthorExternalID: p.CreatedBy.ID,
		SourceCreatedAt:  &created,
		SourceUpdatedAt:  &updated,
		Metadata:         meta,
		Tags:             []string{"notion", "document"},
		Participants: []adapter.Participant{{
			Role:       model.RoleAuthor,
			ExternalID: p.CreatedBy.ID,
		}},
	}, nil
}

// flattenBlocks renders a page's block tree to plain text, one line per
// block, recursing into children up to maxBlockDepth.
func (a *Adapter) flattenBlocks(ctx context.Context, c *httpx.Client, blockID string, depth int) (string, error) {
	if depth >= maxBlockDepth {
		return "", nil
	}

	var lines []string
	cursor := ""
	for {
		q := url.Values{"page_size": {"100"}}
		if cursor != "" {
			q.Set("start_cursor", cursor)
		}
		resp, err := c.Get(ctx, "/v1/blocks/"+blockID+"/children", q, nil)
		if err != nil {
			return "", classify(err)
		}
		var br blocksResponse
		if err := resp.JSON(&br); err != nil {
			return "", fmt.Errorf("notion: decode blocks: %w", err)
		}

		for _, blk := range br.Results {
			if line := renderBlock(blk, depth); line != "" {
				lines = append(lines, line)
			}
			if blk.HasChildren {
				nested, err := a.flattenBlocks(ctx, c, blk.ID, depth+1)
				if err != nil {
					return "", err
				}
				if nested != "" {
					lines = append(lines, nested)
				}
			}
		}
		if !br.HasMore {
			break
		}
		cursor = br.NextCursor
	}
	return strings.Join(lines, "\n"), nil
}

func renderBlock(blk block, depth int) string {
	indent := strings.Repeat("  ", depth)
	switch blk.Type {
	case "paragraph":
		return indent + blk.Paragraph.text()
	case "heading_1":
		return indent + "# " + blk.Heading1.text()
	case "heading_2":
		return indent + "## " + blk.Heading2.text()
	case "heading_3":
		return indent + "### " + blk.Heading3.text()
	case "bulleted_list_item":
		return indent + "- " + blk.BulletedListItem.text()
	case "numbered_list_item":
		return indent + "- " + blk.NumberedListItem.text()
	case "code":
		return indent + "```\n" + blk.Code.text() + "\n```"
	case "quote":
		return indent + "> " + blk.Quote.text()
	case "to_do":
		mark := "[ ]"
		if blk.ToDo.Checked {
			mark = "[x]"
		}
		return indent + mark + " " + blk.ToDo.text()
	}
	return ""
}
