// Package social is the HTTP client for the social network the agent posts
// to. It owns transport and response interpretation; callers never parse
// response bodies themselves.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodySize    = 1 << 20
)

// StatusError is returned for non-2xx responses other than 429.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client talks to the social network API with a bearer token.
type Client struct {
	baseURL    string
	token      string
	username   string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL acting as username.
func NewClient(baseURL, token, username string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		username:   username,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// Username is the account the client acts as.
func (c *Client) Username() string { return c.username }

type createVariables struct {
	Text       string          `json:"tweet_text"`
	Reply      *replyVariables `json:"reply,omitempty"`
	Attachment string          `json:"attachment_url,omitempty"`
	Media      *mediaVariables `json:"media,omitempty"`
}

type replyVariables struct {
	InReplyToID string `json:"in_reply_to_tweet_id"`
}

type mediaVariables struct {
	MediaIDs []string `json:"media_ids"`
}

// SendPost creates a post and returns the raw response body. Use
// InterpretSendResponse to decide whether it was delivered.
func (c *Client) SendPost(ctx context.Context, p PostRequest) (json.RawMessage, error) {
	vars := createVariables{Text: p.Text}
	if p.InReplyTo != "" {
		vars.Reply = &replyVariables{InReplyToID: p.InReplyTo}
	}
	if p.QuoteOf != "" {
		vars.Attachment = c.baseURL + "/i/status/" + p.QuoteOf
	}
	if len(p.MediaIDs) > 0 {
		vars.Media = &mediaVariables{MediaIDs: p.MediaIDs}
	}
	return c.do(ctx, http.MethodPost, "/graphql/CreateTweet", map[string]any{"variables": vars})
}

// Like endorses an item.
func (c *Client) Like(ctx context.Context, itemID string) error {
	_, err := c.do(ctx, http.MethodPost, "/graphql/FavoriteTweet",
		map[string]any{"variables": map[string]string{"tweet_id": itemID}})
	return err
}

// Repost reshares an item.
func (c *Client) Repost(ctx context.Context, itemID string) error {
	_, err := c.do(ctx, http.MethodPost, "/graphql/CreateRetweet",
		map[string]any{"variables": map[string]string{"tweet_id": itemID}})
	return err
}

type itemsResponse struct {
	Items []Item `json:"items"`
}

// FetchTimeline returns up to limit of the most recent home timeline items,
// newest first.
func (c *Client) FetchTimeline(ctx context.Context, limit int) ([]Item, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(limit))
	raw, err := c.do(ctx, http.MethodGet, "/timeline/home?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching timeline: %w", err)
	}
	var resp itemsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding timeline: %w", err)
	}
	if len(resp.Items) > limit {
		resp.Items = resp.Items[:limit]
	}
	return resp.Items, nil
}

// FetchThread returns the ancestors of itemID, oldest first, walking at most
// depth replies up.
func (c *Client) FetchThread(ctx context.Context, itemID string, depth int) ([]Item, error) {
	q := url.Values{}
	q.Set("depth", strconv.Itoa(depth))
	raw, err := c.do(ctx, http.MethodGet, "/tweets/"+url.PathEscape(itemID)+"/thread?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetching thread %s: %w", itemID, err)
	}
	var resp itemsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding thread: %w", err)
	}
	return resp.Items, nil
}

// ErrRateLimited is returned when the network answers 429. The call is not
// retried; the caller abandons the operation for this cycle.
var ErrRateLimited = errors.New("rate limited (HTTP 429)")

// do sends one request. No status is retried.
func (c *Client) do(ctx context.Context, method, path string, payload any) (json.RawMessage, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
	}
	return c.doOnce(ctx, method, path, body)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}
	return json.RawMessage(respBody), nil
}
