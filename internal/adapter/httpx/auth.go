package httpx

import "net/http"

// Auth sets per-request authentication headers.
type Auth interface {
	Apply(req *http.Request)
}

// NoAuth sends requests unauthenticated.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

// BearerToken sends an Authorization: Bearer header. Slack, GitHub, and
// Notion all take this form.
type BearerToken struct {
	Token string
}

func (a BearerToken) Apply(req *http.Request) {
	if a.Token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
}

// HeaderKey sends an API key in a named header.
type HeaderKey struct {
	Header string
	Key    string
}

func (a HeaderKey) Apply(req *http.Request) {
	if a.Key == "" {
		return
	}
	h := a.Header
	if h == "" {
		h = "X-API-Key"
	}
	req.Header.Set(h, a.Key)
}
