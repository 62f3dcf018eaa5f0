package syncer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	// maxWebhookBody bounds payload reads.
	maxWebhookBody = 1 << 20

	// slackSignatureSkew rejects replayed Slack deliveries.
	slackSignatureSkew = 5 * time.Minute
)

// WebhookServer accepts provider push events, verifies their HMAC
// signatures, and refreshes the single item each event names. Events
// are a freshness shortcut; polling remains the source of truth.
type WebhookServer struct {
	syncer             *Syncer
	logger             *zap.Logger
	slackSigningSecret string
	githubSecret       string
	now                func() time.Time
}

// NewWebhookServer builds the webhook ingress. Empty secrets disable
// the corresponding provider route.
func NewWebhookServer(sy *Syncer, logger *zap.Logger, slackSigningSecret, githubSecret string) *WebhookServer {
	return &WebhookServer{
		syncer:             sy,
		logger:             logger.With(zap.String("component", "webhook")),
		slackSigningSecret: slackSigningSecret,
		githubSecret:       githubSecret,
		now:                time.Now,
	}
}

// Routes mounts the provider endpoints. The source id rides in the
// path so one deployment serves many connected workspaces.
func (s *WebhookServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/slack/{source}", s.handleSlack)
	mux.HandleFunc("POST /webhooks/github/{source}", s.handleGitHub)
	return mux
}

type slackEnvelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Event     struct {
		Type     string `json:"type"`
		Channel  string `json:"channel"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
}

func (s *WebhookServer) handleSlack(w http.ResponseWriter, r *http.Request) {
	if s.slackSigningSecret == "" {
		http.Error(w, "slack webhooks not configured", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	ts := r.Header.Get("X-Slack-Request-Timestamp")
	sig := r.Header.Get("X-Slack-Signature")
	if !s.verifySlackSignature(ts, body, sig) {
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	var env slackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if env.Type == "url_verification" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, env.Challenge)
		return
	}
	if env.Type != "event_callback" || env.Event.Channel == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Threaded replies refresh the whole thread item.
	ts = env.Event.TS
	if env.Event.ThreadTS != "" {
		ts = env.Event.ThreadTS
	}
	sourceID := r.PathValue("source")
	externalID := env.Event.Channel + ":" + ts
	if err := s.syncer.RefreshItem(r.Context(), sourceID, externalID); err != nil {
		s.logger.Warn("slack refresh failed",
			zap.String("source_id", sourceID),
			zap.String("external_id", externalID),
			zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
}

// verifySlackSignature checks the v0 signing scheme:
// HMAC-SHA256 over "v0:<timestamp>:<body>", hex, prefixed "v0=".
func (s *WebhookServer) verifySlackSignature(ts string, body []byte, sig string) bool {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := s.now().Sub(time.Unix(unix, 0))
	if skew < -slackSignatureSkew || skew > slackSignatureSkew {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.slackSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

type githubEnvelope struct {
	Issue *struct {
		Number int `json:"number"`
	} `json:"issue"`
	PullRequest *struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (s *WebhookServer) handleGitHub(w http.ResponseWriter, r *http.Request) {
	if s.githubSecret == "" {
		http.Error(w, "github webhooks not configured", http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}
	if !verifyGitHubSignature(s.githubSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	var env githubEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	number := 0
	switch {
	case env.PullRequest != nil:
		number = env.PullRequest.Number
	case env.Issue != nil:
		number = env.Issue.Number
	}
	if number == 0 || env.Repository.FullName == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	sourceID := r.PathValue("source")
	externalID := fmt.Sprintf("%s#%d", env.Repository.FullName, number)
	if err := s.syncer.RefreshItem(r.Context(), sourceID, externalID); err != nil {
		s.logger.Warn("github refresh failed",
			zap.String("source_id", sourceID),
			zap.String("external_id", externalID),
			zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
}

// verifyGitHubSignature checks the sha256= HMAC scheme over the raw
// payload.
func verifyGitHubSignature(secret string, body []byte, sig string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}
