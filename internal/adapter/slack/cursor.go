package slack

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// syncCursor is the composite resume position across a workspace's
// channels: the channel snapshot taken at the start of the run, the
// channel currently being paged, and the in-channel page token.
// Per-channel incremental bounds live in the cursor store as
// subresource rows keyed by channel id.
type syncCursor struct {
	Channels     []string          `json:"channels"`
	ChannelNames map[string]string `json:"channelNames,omitempty"`
	Index        int               `json:"index"`
	PageCursor   string            `json:"pageCursor,omitempty"`
}

func decodeCursor(raw string) (*syncCursor, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("slack: decode cursor: %w", err)
	}
	var c syncCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("slack: decode cursor: %w", err)
	}
	return &c, nil
}

func (c *syncCursor) encode() string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}

func (c *syncCursor) done() bool {
	return c.Index >= len(c.Channels)
}

func (c *syncCursor) current() string {
	return c.Channels[c.Index]
}

// advance moves to the next page token, or to the next channel when the
// current one is exhausted.
func (c *syncCursor) advance(nextPage string) {
	if nextPage != "" {
		c.PageCursor = nextPage
		return
	}
	c.Index++
	c.PageCursor = ""
}
