// Package talkdb provides a client for the talk-to-db chat service.
package talkdb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client is a talk-to-db API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client. The API token is read from TALKDB_TOKEN
// or, failing that, from the config directory.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("TALKDB_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".talkdb")
	}

	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ConfigDir:  configDir,
		Token:      os.Getenv("TALKDB_TOKEN"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if c.Token == "" {
		_ = c.LoadToken()
	}
	return c
}

// LoadToken reads the saved API token.
func (c *Client) LoadToken() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "token"))
	if err != nil {
		return err
	}
	c.Token = strings.TrimSpace(string(data))
	return nil
}

// SaveToken stores token in the config directory.
func (c *Client) SaveToken(token string) error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}
	c.Token = token
	return os.WriteFile(filepath.Join(c.ConfigDir, "token"), []byte(token), 0600)
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("talkdb error %d: %s", e.Status, e.Message)
}

// doRequest performs an authenticated HTTP request and decodes the JSON
// response into out when out is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Chat is a conversation.
type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	IsArchived   bool      `json:"is_archived"`
}

// Message is one stored turn of a chat.
type Message struct {
	ID           string          `json:"id"`
	Role         string          `json:"role"`
	Content      string          `json:"content"`
	Metadata     json.RawMessage `json:"ai_response_metadata,omitempty"`
	TokensUsed   *int            `json:"tokens_used,omitempty"`
	ResponseTime *float64        `json:"response_time,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"checks"`
}

// Health checks server health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateChat creates a chat. An empty title uses the server default.
func (c *Client) CreateChat(ctx context.Context, title string) (*Chat, error) {
	var resp Chat
	if err := c.doRequest(ctx, http.MethodPost, "/api/chats", map[string]string{"title": title}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListChats lists the caller's chats.
func (c *Client) ListChats(ctx context.Context, archived bool) ([]Chat, error) {
	var resp struct {
		Chats []Chat `json:"chats"`
	}
	path := fmt.Sprintf("/api/chats?archived=%t", archived)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// ToggleArchive flips a chat's archived flag.
func (c *Client) ToggleArchive(ctx context.Context, chatID string) (*Chat, error) {
	var resp Chat
	if err := c.doRequest(ctx, http.MethodPost, "/api/chats/"+chatID+"/toggle-archive", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteChat deletes a chat and its messages.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/chats/"+chatID, nil, nil)
}

// Messages returns a chat's messages, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string) ([]Message, error) {
	var resp struct {
		Messages []Message `json:"messages"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Profile is the authenticated user.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Me returns the profile the token belongs to.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var resp Profile
	if err := c.doRequest(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
