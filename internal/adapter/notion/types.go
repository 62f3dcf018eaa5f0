package notion

import "time"

// Wire types for the subset of the Notion API this adapter touches.

type searchRequest struct {
	Filter      *searchFilter `json:"filter,omitempty"`
	Sort        *searchSort   `json:"sort,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
}

type searchFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

type searchSort struct {
	Direction string `json:"direction"`
	Timestamp string `json:"timestamp"`
}

type searchResponse struct {
	Results    []page `json:"results"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor"`
}

type parent struct {
	Type       string `json:"type"`
	PageID     string `json:"page_id,omitempty"`
	DatabaseID string `json:"database_id,omitempty"`
	Workspace  bool   `json:"workspace,omitempty"`
}

func (p parent) ref() (parentType, parentID string) {
	switch p.Type {
	case "page_id":
		return "page", p.PageID
	case "database_id":
		return "database", p.DatabaseID
	case "workspace":
		return "workspace", ""
	}
	return p.Type, ""
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type titleProperty struct {
	Type  string     `json:"type"`
	Title []richText `json:"title,omitempty"`
}

type page struct {
	Object         string    `json:"object"`
	ID             string    `json:"id"`
	CreatedTime    time.Time `json:"created_time"`
	LastEditedTime time.Time `json:"last_edited_time"`
	Archived       bool      `json:"archived"`
	URL            string    `json:"url"`
	Parent         parent    `json:"parent"`
	CreatedBy      struct {
		ID string `json:"id"`
	} `json:"created_by"`
	Icon struct {
		Emoji string `json:"emoji,omitempty"`
	} `json:"icon"`
	Properties map[string]titleProperty `json:"properties"`
}

// title finds the title property; its key varies per database schema.
func (p page) title() string {
	for _, prop := range p.Properties {
		if prop.Type != "title" {
			continue
		}
		out := ""
		for _, rt := range prop.Title {
			out += rt.PlainText
		}
		if out != "" {
			return out
		}
	}
	return "Untitled"
}

type blockText struct {
	RichText []richText `json:"rich_text"`
	Checked  bool       `json:"checked,omitempty"`
}

func (b blockText) text() string {
	out := ""
	for _, rt := range b.RichText {
		out += rt.PlainText
	}
	return out
}

type block struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	HasChildren bool   `json:"has_children"`

	Paragraph        blockText `json:"paragraph"`
	Heading1         blockText `json:"heading_1"`
	Heading2         blockText `json:"heading_2"`
	Heading3         blockText `json:"heading_3"`
	BulletedListItem blockText `json:"bulleted_list_item"`
	NumberedListItem blockText `json:"numbered_list_item"`
	Code             blockText `json:"code"`
	Quote            blockText `json:"quote"`
	ToDo             blockText `json:"to_do"`
}

type blocksResponse struct {
	Results    []block `json:"results"`
	HasMore    bool    `json:"has_more"`
	NextCursor string  `json:"next_cursor"`
}
