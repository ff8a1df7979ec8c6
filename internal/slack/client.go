// Package slack is the HTTP transport for the Slack Web API surface the
// engine depends on: chat.postMessage, chat.update, and chat.delete.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/streamframe/streamframe/internal/blocks"
)

// DefaultBaseURL is the production Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

type Option func(*Client)

// Client issues Slack Web API calls. It performs no retries and no pacing;
// the call scheduler owns both.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	token      string
	userAgent  string
}

func NewClient(baseURL, token string, options ...Option) (*Client, error) {
	parsedBaseURL, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse slack base url: %w", err)
	}
	if parsedBaseURL.Scheme == "" || parsedBaseURL.Host == "" {
		return nil, fmt.Errorf("slack base url must include scheme and host")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("slack token is required")
	}

	client := &Client{
		httpClient: &http.Client{},
		baseURL:    parsedBaseURL,
		token:      token,
		userAgent:  "streamframe",
	}

	for _, option := range options {
		option(client)
	}

	return client, nil
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(client *Client) {
		if userAgent != "" {
			client.userAgent = userAgent
		}
	}
}

// PostMessage creates a message and returns the platform-assigned message id.
func (c *Client) PostMessage(ctx context.Context, channel string, chunk blocks.Chunk) (string, error) {
	payload := map[string]any{
		"channel": channel,
		"blocks":  chunk.Wire(),
		"text":    chunk.Fallback(),
	}
	result, err := c.call(ctx, "chat.postMessage", payload)
	if err != nil {
		return "", err
	}
	if result.TS == "" {
		return "", &CallError{Kind: KindTransport, Message: "chat.postMessage response missing ts"}
	}
	return result.TS, nil
}

// UpdateMessage replaces the content of an existing message.
func (c *Client) UpdateMessage(ctx context.Context, channel, messageID string, chunk blocks.Chunk) error {
	payload := map[string]any{
		"channel": channel,
		"ts":      messageID,
		"blocks":  chunk.Wire(),
		"text":    chunk.Fallback(),
	}
	_, err := c.call(ctx, "chat.update", payload)
	return err
}

// DeleteMessage removes an existing message.
func (c *Client) DeleteMessage(ctx context.Context, channel, messageID string) error {
	payload := map[string]any{
		"channel": channel,
		"ts":      messageID,
	}
	_, err := c.call(ctx, "chat.delete", payload)
	return err
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

func (c *Client) call(ctx context.Context, method string, payload map[string]any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Kind: KindTransport, Message: fmt.Sprintf("encode %s payload: %v", method, err)}
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimSuffix(c.baseURL.Path, "/") + "/" + method})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &CallError{Kind: KindTransport, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	rawResponse, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetworkError(err)
	}
	defer rawResponse.Body.Close()

	responseBody, err := io.ReadAll(rawResponse.Body)
	if err != nil {
		return nil, classifyNetworkError(err)
	}

	if rawResponse.StatusCode == http.StatusTooManyRequests {
		return nil, &CallError{
			Kind:       KindRateLimited,
			StatusCode: rawResponse.StatusCode,
			RetryAfter: parseRetryAfter(rawResponse.Header),
			Message:    strings.TrimSpace(string(responseBody)),
		}
	}
	if rawResponse.StatusCode >= http.StatusBadRequest {
		return nil, &CallError{
			Kind:       KindTransport,
			StatusCode: rawResponse.StatusCode,
			Message:    strings.TrimSpace(string(responseBody)),
		}
	}

	var parsed apiResponse
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return nil, &CallError{Kind: KindTransport, Message: fmt.Sprintf("decode %s response: %v", method, err)}
	}
	if !parsed.OK {
		kind := KindTransport
		if parsed.Error == "ratelimited" || parsed.Error == "rate_limited" {
			kind = KindRateLimited
		}
		return nil, &CallError{
			Kind:       kind,
			StatusCode: rawResponse.StatusCode,
			Message:    fmt.Sprintf("%s failed: %s", method, parsed.Error),
		}
	}

	return &parsed, nil
}

func parseRetryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
