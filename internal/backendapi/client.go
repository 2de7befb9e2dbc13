// Package backendapi is the typed client for the backend's REST surface:
// code exchange, current user, emoji listing, profile updates, meeting
// reactions and the per-meeting push stream. Calls are plain
// request/response with no retries; the relay owns all reconnect logic.
package backendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/ablaszkiewicz/google-meet-slack-emojis/internal/emoji"
)

// Client talks to the backend. Bearer tokens are explicit arguments; the
// client itself keeps no session state.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		// Push streams are long-lived; they must not inherit the
		// point-request timeout.
		streamClient: &http.Client{},
	}
}

// ExchangeCode trades an OAuth authorization code for a session token.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (string, error) {
	var resp exchangeCodeResponse
	req := exchangeCodeRequest{Code: code, RedirectURI: redirectURI}
	if err := c.do(ctx, http.MethodPost, "/auth/slack/exchange-code", "", req, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// CurrentUser fetches the profile behind the given session token.
func (c *Client) CurrentUser(ctx context.Context, token string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, http.MethodGet, "/users/me", token, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile changes the user's display name and returns the updated
// profile.
func (c *Client) UpdateProfile(ctx context.Context, token, name string) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, http.MethodPatch, "/users/me", token, updateProfileRequest{Name: name}, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Emojis fetches the workspace emoji listing proxied by the backend and
// normalizes it before returning.
func (c *Client) Emojis(ctx context.Context, token string) ([]emoji.Emoji, error) {
	var emojis []emoji.Emoji
	if err := c.do(ctx, http.MethodGet, "/slack/emojis", token, nil, &emojis); err != nil {
		return nil, err
	}
	return emoji.Normalize(emojis), nil
}

// PostReaction publishes a reaction add for a meeting. The event reaches
// this client only by echoing back on the meeting's push stream.
func (c *Client) PostReaction(ctx context.Context, token, meetingID string, body ReactionBody) error {
	return c.do(ctx, http.MethodPost, "/slack/meetings/"+meetingID+"/reactions", token, body, nil)
}

// DeleteReaction publishes a reaction removal for a meeting.
func (c *Client) DeleteReaction(ctx context.Context, token, meetingID string, body ReactionBody) error {
	return c.do(ctx, http.MethodDelete, "/slack/meetings/"+meetingID+"/reactions", token, body, nil)
}

// OpenEvents opens the per-meeting push stream. The caller owns the returned
// body and must close it; cancelling ctx aborts an in-flight read.
func (c *Client) OpenEvents(ctx context.Context, token, meetingID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/slack/meetings/"+meetingID+"/events", http.NoBody)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("event stream rejected with status %d", resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, errors.New("event stream response has no body")
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "backend request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorText(respBody)}
	}

	if dest != nil {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return errors.Wrap(err, "failed to unmarshal response")
		}
	}
	return nil
}
