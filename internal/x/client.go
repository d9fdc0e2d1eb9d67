// Package x is a client for the X (Twitter) API: posting text and media
// tweets, replying, and searching recent posts. Requests are signed with
// OAuth 1.0a user context, which both the v1.1 media endpoints and the
// v2 tweet endpoints accept.
package x

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"github.com/permaboost370/x-posting-bot/internal/httpkit"
)

const (
	apiBase    = "https://api.twitter.com"
	uploadBase = "https://upload.twitter.com"

	// dryRunID is returned in place of a real tweet ID when posting is
	// simulated.
	dryRunID = "dryrun"

	maxAltTextLen = 1000
)

// Config holds the OAuth 1.0a user-context credentials and mode flags.
type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string

	// DryRun makes every posting call log the would-be action and
	// return a sentinel ID instead of hitting the network.
	DryRun bool
}

// Client is an X API client. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	apiBase    string
	uploadBase string
	dryRun     bool
	logger     *slog.Logger
}

// NewClient creates an X client with signed requests.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	oauthCfg := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
	token := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)

	// Route the signing transport through the shared httpkit client so
	// outbound calls keep the standard transport settings.
	ctx := context.WithValue(oauth1.NoContext, oauth1.HTTPClient,
		httpkit.NewClient(httpkit.WithTimeout(0)))
	signed := oauthCfg.Client(ctx, token)
	signed.Timeout = 60 * time.Second

	return &Client{
		httpClient: signed,
		apiBase:    apiBase,
		uploadBase: uploadBase,
		dryRun:     cfg.DryRun,
		logger:     logger.With("component", "x"),
	}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Reply *replyRef   `json:"reply,omitempty"`
	Media *mediaAttch `json:"media,omitempty"`
}

type replyRef struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type mediaAttch struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// PostText publishes a text-only tweet and returns its ID.
func (c *Client) PostText(ctx context.Context, text string) (string, error) {
	if c.dryRun {
		c.logger.Info("dry run: would post text", "text", text)
		return dryRunID, nil
	}
	return c.createTweet(ctx, tweetRequest{Text: text})
}

// Reply publishes a reply to the given tweet and returns the reply's ID.
func (c *Client) Reply(ctx context.Context, text, toTweetID string) (string, error) {
	if c.dryRun {
		c.logger.Info("dry run: would reply", "to", toTweetID, "text", text)
		return dryRunID, nil
	}
	return c.createTweet(ctx, tweetRequest{
		Text:  text,
		Reply: &replyRef{InReplyToTweetID: toTweetID},
	})
}

// PostImage uploads image bytes, attaches optional alt text, and
// publishes a tweet with the media attached. Alt-text failures are
// logged and otherwise ignored; losing accessibility text should not
// lose the post.
func (c *Client) PostImage(ctx context.Context, image []byte, text, altText string) (string, error) {
	if c.dryRun {
		c.logger.Info("dry run: would post image",
			"bytes", len(image),
			"caption", text,
			"altText", altText,
		)
		return dryRunID, nil
	}

	mediaID, err := c.uploadMedia(ctx, image)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	if altText != "" {
		if err := c.setAltText(ctx, mediaID, altText); err != nil {
			c.logger.Warn("set alt text failed", "mediaID", mediaID, "error", err)
		}
	}

	return c.createTweet(ctx, tweetRequest{
		Text:  text,
		Media: &mediaAttch{MediaIDs: []string{mediaID}},
	})
}

// SearchRecent queries the recent-search endpoint for tweets created
// after start, expanding author username, verification, and follower
// counts.
func (c *Client) SearchRecent(ctx context.Context, query string, start time.Time, maxResults int) (*SearchResult, error) {
	if maxResults < 10 {
		maxResults = 10 // endpoint minimum
	}
	if maxResults > 100 {
		maxResults = 100
	}

	params := url.Values{
		"query":        {query},
		"max_results":  {strconv.Itoa(maxResults)},
		"tweet.fields": {"author_id,created_at,public_metrics,referenced_tweets,conversation_id,text"},
		"expansions":   {"author_id"},
		"user.fields":  {"username,verified,public_metrics"},
	}
	if !start.IsZero() {
		params.Set("start_time", start.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBase+"/2/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}

	var payload struct {
		Data     []Tweet `json:"data"`
		Includes struct {
			Users []User `json:"users"`
		} `json:"includes"`
	}
	if err := c.doJSON(req, &payload); err != nil {
		return nil, fmt.Errorf("search recent: %w", err)
	}

	result := &SearchResult{
		Tweets: payload.Data,
		Users:  make(map[string]User, len(payload.Includes.Users)),
	}
	for _, u := range payload.Includes.Users {
		result.Users[u.ID] = u
	}
	return result, nil
}

// Lookup fetches tweets by ID with their public metrics, for the
// operator /stats command.
func (c *Client) Lookup(ctx context.Context, ids []string) ([]Tweet, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > 100 {
		ids = ids[:100] // endpoint limit per request
	}

	params := url.Values{
		"ids":          {strings.Join(ids, ",")},
		"tweet.fields": {"public_metrics,created_at"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiBase+"/2/tweets?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}

	var payload struct {
		Data []Tweet `json:"data"`
	}
	if err := c.doJSON(req, &payload); err != nil {
		return nil, fmt.Errorf("lookup tweets: %w", err)
	}
	return payload.Data, nil
}

// createTweet posts to the v2 tweet endpoint.
func (c *Client) createTweet(ctx context.Context, body tweetRequest) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal tweet: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiBase+"/2/tweets", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("build tweet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp tweetResponse
	if err := c.doJSON(req, &resp); err != nil {
		return "", fmt.Errorf("create tweet: %w", err)
	}
	if resp.Data.ID == "" {
		return "", fmt.Errorf("create tweet: response missing tweet id")
	}

	c.logger.Info("posted tweet", "id", resp.Data.ID)
	return resp.Data.ID, nil
}

// uploadMedia sends image bytes to the v1.1 media upload endpoint and
// returns the media ID string.
func (c *Client) uploadMedia(ctx context.Context, image []byte) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("media", "image.png")
	if err != nil {
		return "", fmt.Errorf("create media part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("write media part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize media body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.uploadBase+"/1.1/media/upload.json", &buf)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp struct {
		MediaIDString string `json:"media_id_string"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return "", err
	}
	if resp.MediaIDString == "" {
		return "", fmt.Errorf("media upload: response missing media id")
	}
	return resp.MediaIDString, nil
}

// setAltText attaches accessibility text to uploaded media.
func (c *Client) setAltText(ctx context.Context, mediaID, altText string) error {
	if len(altText) > maxAltTextLen {
		altText = altText[:maxAltTextLen]
	}

	body := map[string]any{
		"media_id": mediaID,
		"alt_text": map[string]string{"text": altText},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal alt text: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.uploadBase+"/1.1/media/metadata/create.json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata create: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("metadata create: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := httpkit.ReadErrorBody(resp.Body, 1024)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
