package main

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

	"github.com/studiosync/studiosync/internal/config"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	// streamClient has no overall timeout; a chat exchange can legitimately
	// run for minutes.
	streamClient *http.Client
	dataDir      string
}

func tokenPath(dataDir string) string {
	return filepath.Join(dataDir, "token")
}

// loadToken reads the saved session token, preferring the STUDIOSYNC_TOKEN
// environment variable. A missing token is not an error here; endpoints that
// need auth will get a 401 the caller can act on.
func loadToken(dataDir string) string {
	if t := os.Getenv("STUDIOSYNC_TOKEN"); t != "" {
		return t
	}
	data, err := os.ReadFile(tokenPath(dataDir))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &apiClient{
		baseURL:      fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:        loadToken(cfg.Storage.DataDir),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		streamClient: &http.Client{},
		dataDir:      cfg.Storage.DataDir,
	}, nil
}

func (c *apiClient) saveToken(token string) error {
	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tokenPath(c.dataDir), []byte(token), 0o600); err != nil {
		return err
	}
	c.token = token
	return nil
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is studiosync running? (%w)", err)
	}
	return resp, nil
}

// stream issues a request whose response body is consumed incrementally.
func (c *apiClient) stream(ctx context.Context, path string, body any) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is studiosync running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *apiClient) patch(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

func (c *apiClient) delete(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
