// internal/api/client.go
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/missileglobe/globe-client/pkg/protocol"
)

// ErrEmptySession is returned when the server hands out a blank session token.
var ErrEmptySession = errors.New("empty session token")

// Client handles the HTTP side channel of the game server. Requests share a
// cookie jar so credentials set by the server are sent back.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client. A nil jar gets a fresh in-memory jar.
func New(baseURL string, jar http.CookieJar, timeout time.Duration) *Client {
	if jar == nil {
		jar, _ = cookiejar.New(nil)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
	}
}

// Jar returns the cookie jar shared with the websocket dialer.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// Healthcheck checks if the game server is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Session requests a new session token.
func (c *Client) Session(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/session", nil)
	if err != nil {
		return "", fmt.Errorf("session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session returned status %d", resp.StatusCode)
	}

	var body protocol.SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if body.Session == "" {
		return "", ErrEmptySession
	}
	return body.Session, nil
}

// LaunchParameters fetches the current automation command. It returns nil
// without error when the server has none.
func (c *Client) LaunchParameters(ctx context.Context) (*protocol.LaunchParameters, error) {
	resp, err := c.do(ctx, http.MethodGet, "/script/parameters.json", nil)
	if err != nil {
		return nil, fmt.Errorf("parameters request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return nil, nil
	default:
		return nil, fmt.Errorf("parameters returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read parameters: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	var params protocol.LaunchParameters
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: parameters.json: %v", protocol.ErrMalformedPayload, err)
	}
	return &params, nil
}

// SaveCoordinates uploads the current base layout.
func (c *Client) SaveCoordinates(ctx context.Context, body protocol.SaveCoordinates) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal coordinates: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/save-coordinates", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("save-coordinates request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("save-coordinates returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}
