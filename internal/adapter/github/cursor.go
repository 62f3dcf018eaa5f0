package github

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// syncCursor is the composite resume position across a source's repos:
// the repo list snapshot, the repo currently being paged, and the page
// number within it. Per-repo incremental "since" bounds live in the
// cursor store as subresource rows keyed by owner/repo.
type syncCursor struct {
	Repos []string `json:"repos"`
	Index int      `json:"index"`
	Page  int      `json:"page"`
}

func decodeCursor(raw string) (*syncCursor, error) {
	if raw == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("github: decode cursor: %w", err)
	}
	var c syncCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("github: decode cursor: %w", err)
	}
	return &c, nil
}

func (c *syncCursor) encode() string {
	data, _ := json.Marshal(c)
	return base64.StdEncoding.EncodeToString(data)
}

func (c *syncCursor) done() bool {
	return c.Index >= len(c.Repos)
}

func (c *syncCursor) current() string {
	return c.Repos[c.Index]
}

// advance moves to the next page, or the next repo when the current
// page came back short.
func (c *syncCursor) advance(lastPageFull bool) {
	if lastPageFull {
		c.Page++
		return
	}
	c.Index++
	c.Page = 1
}
