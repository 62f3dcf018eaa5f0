package slack

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/crosswire-ai/crosswire/internal/adapter"
	"github.com/crosswire-ai/crosswire/internal/adapter/httpx"
	"github.com/crosswire-ai/crosswire/internal/model"
)

var mentionRe = regexp.MustCompile(`<@(U[A-Z0-9]+)>`)

// FetchContent returns one conversations.history page of one channel,
// aggregating threads and applying the attachment policy.
func (a *Adapter) FetchContent(ctx context.Context, src *model.ContentSource, creds model.Credentials, opts adapter.FetchOptions) (*adapter.FetchResult, error) {
	c := a.client(src, creds)

	cur, err := decodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	firstPageOfChannel := false
	if cur == nil {
		channels, err := a.listChannels(ctx, c, src)
		if err != nil {
			return nil, err
		}
		cur = &syncCursor{ChannelNames: make(map[string]string, len(channels))}
		for _, ch := range channels {
			cur.Channels = append(cur.Channels, ch.ID)
			name := ch.Name
			if ch.IsPrivate {
				name = name + " (private)"
			}
			cur.ChannelNames[ch.ID] = name
		}
		firstPageOfChannel = true
	}
	if cur.done() {
		return &adapter.FetchResult{HasMore: false}, nil
	}
	if cur.PageCursor == "" {
		firstPageOfChannel = true
	}

	users, err := a.userDirectory(ctx, c, src.ID)
	if err != nil {
		return nil, err
	}

	channelID := cur.current()
	channelName := cur.ChannelNames[channelID]

	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = defaultPageSize
	}
	q := url.Values{
		"channel": {channelID},
		"limit":   {strconv.Itoa(pageSize)},
	}
	if cur.PageCursor != "" {
		q.Set("cursor", cur.PageCursor)
	}
	if oldest := oldestBound(opts, channelID); oldest != "" {
		q.Set("oldest", oldest)
	}

	var hist historyResponse
	if err := call(ctx, c, "conversations.history", q, &hist); err != nil {
		return nil, err
	}

	items, maxTS := a.convertPage(ctx, c, src, creds, channelID, channelName, users, hist.Messages)

	cur.advance(hist.Metadata.NextCursor)
	res := &adapter.FetchResult{
		Items:      items,
		HasMore:    !cur.done(),
		NextCursor: cur.encode(),
	}
	if maxTS != "" {
		res.SubCursorUpdates = map[string]string{channelID: maxTS}
	}
	if firstPageOfChannel {
		chType := "public"
		if strings.HasSuffix(channelName, "(private)") {
			chType = "private"
		}
		res.SubMeta = map[string]map[string]string{
			channelID: {"channel_type": chType, "channel_name": strings.TrimSuffix(channelName, " (private)")},
		}
	}
	return res, nil
}

// oldestBound picks the incremental lower bound: the channel's stored
// high-water mark, else the backfill window start.
func oldestBound(opts adapter.FetchOptions, channelID string) string {
	if ts, ok := opts.SubCursors[channelID]; ok && ts != "" {
		return ts
	}
	if opts.Since != nil {
		return strconv.FormatInt(opts.Since.Unix(), 10)
	}
	return ""
}

// convertPage maps a history page to normalized items. Parents with
// replies become aggregated threads; reply fetches run with bounded
// concurrency and degrade to plain messages on failure.
func (a *Adapter) convertPage(ctx context.Context, c *httpx.Client, src *model.ContentSource, creds model.Credentials, channelID, channelName string, users map[string]userInfo, messages []message) ([]adapter.RawContentItem, string) {
	type slot struct {
		idx  int
		item adapter.RawContentItem
		ok   bool
	}
	slots := make([]slot, len(messages))
	maxTS := ""

	var wg sync.WaitGroup
	sem := make(chan struct{}, replyFetchConcurrency)

	for i, msg := range messages {
		if msg.TS > maxTS {
			maxTS = msg.TS
		}
		if !syncable(msg) {
			continue
		}

		if msg.ReplyCount > 0 {
			wg.Add(1)
			go func(i int, msg message) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()

				item, err := a.fetchThread(ctx, c, src, creds, channelID, channelName, users, msg)
				if err != nil {
					a.logger.Warn("thread fetch failed, keeping parent as message",
						zap.String("channel", channelID), zap.String("ts", msg.TS), zap.Error(err))
					item = a.convertMessage(ctx, src, creds, channelID, channelName, users, msg)
				}
				slots[i] = slot{idx: i, item: item, ok: true}
			}(i, msg)
			continue
		}
		slots[i] = slot{idx: i, item: a.convertMessage(ctx, src, creds, channelID, channelName, users, msg), ok: true}
	}
	wg.Wait()

	var items []adapter.RawContentItem
	for _, s := range slots {
		if s.ok {
			items = append(items, s.item)
		}
	}
	return items, maxTS
}

// syncable filters out join/leave noise and thread replies, which are
// covered by their parent's aggregation.
func syncable(msg message) bool {
	if msg.Type != "message" {
		return false
	}
	if msg.Subtype != "" && msg.Subtype != "file_share" && msg.Subtype != "thread_broadcast" {
		return false
	}
	if msg.ThreadTS != "" && msg.ThreadTS != msg.TS {
		return false
	}
	return true
}

func (a *Adapter) convertMessage(ctx context.Context, src *model.ContentSource, creds model.Credentials, channelID, channelName string, users map[string]userInfo, msg message) adapter.RawContentItem {
	created := parseTS(msg.TS)
	authorName := users[msg.User].Name

	meta := model.SlackMessageMeta{
		ChannelID:   channelID,
		ChannelName: strings.TrimSuffix(channelName, " (private)"),
		Timestamp:   msg.TS,
		Reactions:   reactionCounts(msg.Reactions),
		Mentions:    extractMentions(msg.Text),
		Attachments: a.processFiles(ctx, src, creds, msg.Files),
	}

	return adapter.RawContentItem{
		Type:             model.TypeMessage,
		ExternalID:       channelID + ":" + msg.TS,
		Title:            truncate(msg.Text, 80),
		Content:          msg.Text,
		AuthorExternalID: msg.User,
		AuthorName:       authorName,
		SourceCreatedAt:  created,
		Metadata:         meta,
		Tags:             []string{"slack", "message"},
		Participants:     messageParticipants(msg, users),
	}
}

// fetchThread pulls the full reply chain and aggregates it into one
// thread item: ascending transcript with bylines, reaction union across
// parent and replies, merged attachment set.
func (a *Adapter) fetchThread(ctx context.Context, c *httpx.Client, src *model.ContentSource, creds model.Credentials, channelID, channelName string, users map[string]userInfo, parent message) (adapter.RawContentItem, error) {
	var all []message
	cursor := ""
	for {
		q := url.Values{
			"channel": {channelID},
			"ts":      {parent.TS},
			"limit":   {"200"},
		}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp repliesResponse
		if err := call(ctx, c, "conversations.replies", q, &resp); err != nil {
			return adapter.RawContentItem{}, err
		}
		all = append(all, resp.Messages...)
		cursor = resp.Metadata.NextCursor
		if cursor == "" {
			break
		}
	}
	if len(all) == 0 {
		return adapter.RawContentItem{}, fmt.Errorf("slack: thread %s has no messages", parent.TS)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].TS < all[j].TS })

	var (
		lines         []string
		reactions     = make(map[string]int)
		reactionUsers = make(map[string][]string)
		mentions      []string
		files         []file
		participants  = make(map[string]adapter.Participant)
	)
	for _, msg := range all {
		name := users[msg.User].Name
		if name == "" {
			name = msg.User
		}
		lines = append(lines, name+": "+msg.Text)
		mentions = append(mentions, extractMentions(msg.Text)...)
		files = append(files, msg.Files...)
		for _, r := range msg.Reactions {
			reactions[r.Name] += r.Count
			reactionUsers[r.Name] = mergeUsers(reactionUsers[r.Name], r.Users)
		}
		if msg.User != "" {
			role := model.RoleParticipant
			if msg.TS == parent.TS {
				role = model.RoleAuthor
			}
			if _, ok := participants[msg.User]; !ok || role == model.RoleAuthor {
				participants[msg.User] = adapter.Participant{
					Role:       role,
					ExternalID: msg.User,
					Name:       users[msg.User].Name,
					Email:      users[msg.User].Email,
				}
			}
		}
	}

	root := all[0]
	created := parseTS(root.TS)
	updated := parseTS(all[len(all)-1].TS)

	meta := model.SlackThreadMeta{
		ChannelID:     channelID,
		ChannelName:   strings.TrimSuffix(channelName, " (private)"),
		ThreadTS:      root.TS,
		ReplyCount:    len(all) - 1,
		Reactions:     reactions,
		ReactionUsers: reactionUsers,
		Mentions:      dedupe(mentions),
		Attachments:   a.processFiles(ctx, src, creds, files),
	}

	plist := make([]adapter.Participant, 0, len(participants))
	for _, p := range participants {
		plist = append(plist, p)
	}
	sort.Slice(plist, func(i, j int) bool { return plist[i].ExternalID < plist[j].ExternalID })

	return adapter.RawContentItem{
		Type:             model.TypeThread,
		ExternalID:       channelID + ":" + root.TS,
		Title:            truncate(root.Text, 80),
		Content:          strings.Join(lines, "\n"),
		AuthorExternalID: root.User,
		AuthorName:       users[root.User].Name,
		SourceCreatedAt:  created,
		SourceUpdatedAt:  updated,
		Metadata:         meta,
		Tags:             []string{"slack", "thread"},
		Participants:     plist,
	}, nil
}

// FetchItem refreshes one message or thread, keyed "channelID:ts".
func (a *Adapter) FetchItem(ctx context.Context, src *model.ContentSource, creds model.Credentials, externalID string) (*adapter.RawContentItem, error) {
	channelID, ts, ok := strings.Cut(externalID, ":")
	if !ok {
		return nil, fmt.Errorf("slack: malformed external id %q", externalID)
	}
	c := a.client(src, creds)
	users, err := a.userDirectory(ctx, c, src.ID)
	if err != nil {
		return nil, err
	}

	q := url.Values{"channel": {channelID}, "ts": {ts}, "limit": {"200"}}
	var resp repliesResponse
	if err := call(ctx, c, "conversations.replies", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, adapter.ErrItemNotFound
	}

	parent := resp.Messages[0]
	channelName := ""
	if parent.ReplyCount > 0 {
		item, err := a.fetchThread(ctx, c, src, creds, channelID, channelName, users, parent)
		if err != nil {
			return nil, err
		}
		return &item, nil
	}
	item := a.convertMessage(ctx, src, creds, channelID, channelName, users, parent)
	return &item, nil
}

// processFiles applies the attachment policy: small files go to the
// object store when file sync is on; everything else keeps metadata with
// skipped=true and a reason. Per-file failures never fail the item.
func (a *Adapter) processFiles(ctx context.Context, src *model.ContentSource, creds model.Credentials, files []file) []model.Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]model.Attachment, 0, len(files))
	for _, f := range files {
		att := model.Attachment{
			ExternalID: f.ID,
			Name:       f.Name,
			MimeType:   f.Mimetype,
			SizeBytes:  f.Size,
			SourceURL:  f.Permalink,
		}
		switch {
		case f.Size > maxAttachmentBytes:
			att.Skipped = true
			att.SkipReason = "exceeds 10MB limit"
		case !src.Config.SyncFiles:
			att.Skipped = true
			att.SkipReason = "file sync disabled"
		case a.objects == nil:
			att.Skipped = true
			att.SkipReason = "storage not configured"
		default:
			key := fmt.Sprintf("%s/slack/%s/%s", src.OrganizationID, f.ID, f.Name)
			if err := a.uploadFile(ctx, creds, f, key); err != nil {
				a.logger.Warn("attachment upload failed",
					zap.String("file_id", f.ID), zap.Error(err))
				att.Skipped = true
				att.SkipReason = "upload failed: " + err.Error()
			} else {
				att.StorageKey = key
			}
		}
		out = append(out, att)
	}
	return out
}

func (a *Adapter) uploadFile(ctx context.Context, creds model.Credentials, f file, key string) error {
	body, err := httpx.Download(ctx, a.transport, f.URLPrivateDownload, creds.Token)
	if err != nil {
		return err
	}
	defer body.Close()
	return a.objects.Put(ctx, key, body, f.Size, f.Mimetype)
}

func messageParticipants(msg message, users map[string]userInfo) []adapter.Participant {
	var out []adapter.Participant
	if msg.User != "" {
		out = append(out, adapter.Participant{
			Role:       model.RoleAuthor,
			ExternalID: msg.User,
			Name:       users[msg.User].Name,
			Email:      users[msg.User].Email,
		})
	}
	for _, id := range extractMentions(msg.Text) {
		out = append(out, adapter.Participant{
			Role:       model.RoleMentioned,
			ExternalID: id,
			Name:       users[id].Name,
		})
	}
	return out
}

func extractMentions(text string) []string {
	matches := mentionRe.FindAllStringSubmatch(text, -1)
	var out []string
	for _, m := range matches {
		out = append(out, m[1])
	}
	return dedupe(out)
}

func reactionCounts(reactions []reaction) map[string]int {
	if len(reactions) == 0 {
		return nil
	}
	out := make(map[string]int, len(reactions))
	for _, r := range reactions {
		out[r.Name] += r.Count
	}
	return out
}

func mergeUsers(existing, more []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, u := range existing {
		seen[u] = true
	}
	for _, u := range more {
		if !seen[u] {
			existing = append(existing, u)
			seen[u] = true
		}
	}
	sort.Strings(existing)
	return existing
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s != "" && !seen[s] {
			out = append(out, s)
			seen[s] = true
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(strings.Split(s, "\n")[0])
	if len(s) <= n {
		return s
	}
	// Cut on a rune boundary so multi-byte text stays valid UTF-8.
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseTS(ts string) *time.Time {
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return nil
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	t := time.Unix(sec, nsec).UTC()
	return &t
}
