package slack

// Wire types for the subset of the Slack Web API this adapter touches.

type apiResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"response_metadata"`
}

type authTestResponse struct {
	apiResponse
	Team   string `json:"team"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

type channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsChannel  bool   `json:"is_channel"`
	IsPrivate  bool   `json:"is_private"`
	IsArchived bool   `json:"is_archived"`
	IsMember   bool   `json:"is_member"`
}

type conversationsListResponse struct {
	apiResponse
	Channels []channel `json:"channels"`
}

type reaction struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

type file struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Mimetype           string `json:"mimetype"`
	Size               int64  `json:"size"`
	URLPrivateDownload string `json:"url_private_download"`
	Permalink          string `json:"permalink"`
}

type message struct {
	Type       string     `json:"type"`
	Subtype    string     `json:"subtype,omitempty"`
	TS         string     `json:"ts"`
	User       string     `json:"user"`
	Text       string     `json:"text"`
	ThreadTS   string     `json:"thread_ts,omitempty"`
	ReplyCount int        `json:"reply_count,omitempty"`
	Reactions  []reaction `json:"reactions,omitempty"`
	Files      []file     `json:"files,omitempty"`
}

type historyResponse struct {
	apiResponse
	Messages []message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

type repliesResponse struct {
	apiResponse
	Messages []message `json:"messages"`
}

type member struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
	IsBot   bool   `json:"is_bot"`
	Profile struct {
		RealName    string `json:"real_name"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	} `json:"profile"`
}

type usersListResponse struct {
	apiResponse
	Members []member `json:"members"`
}
