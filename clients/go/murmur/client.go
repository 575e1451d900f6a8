// Package murmur provides a client for the murmur chat API.
package murmur

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is a murmur API client authenticated with a bearer token.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client. An empty token is read from MURMUR_TOKEN.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	if token == "" {
		token = os.Getenv("MURMUR_TOKEN")
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("murmur error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// SendResponse is the response from sending a message.
type SendResponse struct {
	ID        string `json:"id"`
	EntryID   string `json:"entry_id"`
	ThreadID  string `json:"thread_id"`
	Timestamp int64  `json:"timestamp"`
}

// Send sends a text message to a friend over HTTP.
func (c *Client) Send(friendID int64, content string) (*SendResponse, error) {
	req := map[string]string{"content": content}
	var resp SendResponse
	if err := c.doRequest(http.MethodPost, "/messages/"+strconv.FormatInt(friendID, 10), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ThreadEntry is one line of conversation history. Exactly one of MyWord and
// FriendWord is set.
type ThreadEntry struct {
	MyWord     string `json:"myword,omitempty"`
	FriendWord string `json:"friendword,omitempty"`
	Timestamp  int64  `json:"timestamp"`
	IsPending  bool   `json:"is_pending,omitempty"`
}

// ThreadResponse is the response from fetching a conversation.
type ThreadResponse struct {
	ThreadID string        `json:"thread_id"`
	Messages []ThreadEntry `json:"messages"`
}

// Thread fetches the conversation with a friend.
func (c *Client) Thread(friendID int64) (*ThreadResponse, error) {
	var resp ThreadResponse
	if err := c.doRequest(http.MethodGet, "/threads/"+strconv.FormatInt(friendID, 10), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Online reports whether each of the given users is online.
func (c *Client) Online(userIDs ...int64) (map[int64]bool, error) {
	if len(userIDs) == 0 {
		return map[int64]bool{}, nil
	}
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}

	var resp struct {
		Online map[string]bool `json:"online"`
	}
	if err := c.doRequest(http.MethodGet, "/presence?ids="+strings.Join(ids, ","), nil, &resp); err != nil {
		return nil, err
	}

	out := make(map[int64]bool, len(resp.Online))
	for k, v := range resp.Online {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = v
	}
	return out, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503, which is
// reported as the response rather than an error.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(http.MethodGet, "/health", nil, &resp)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusServiceUnavailable {
		return &HealthResponse{Status: "degraded"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
