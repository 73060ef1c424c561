// Package ipfs is a minimal IPFS HTTP API client used as a content-addressed
// object store for published epoch and metadata records. Content is opaque
// here beyond JSON encoding; schema validation belongs to the callers.
package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

type Config struct {
	Logger *slog.Logger

	// APIURL is the IPFS node HTTP API base, e.g. http://127.0.0.1:5001.
	APIURL string

	HTTPClient *http.Client
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.APIURL == "" {
		return errors.New("ipfs api url is required")
	}
	if _, err := url.Parse(cfg.APIURL); err != nil {
		return fmt.Errorf("invalid ipfs api url: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

type Client struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

// statusError carries the HTTP status for retryability classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ipfs api returned status %d: %s", e.status, e.body)
}

func (e *statusError) StatusCode() int { return e.status }

// Put adds v as pinned JSON content and returns its content id.
func (c *Client) Put(ctx context.Context, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode object: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "object.json")
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/api/v0/add?pin=true", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs add failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &statusError{status: resp.StatusCode, body: string(msg)}
	}

	var result struct {
		Hash string `json:"Hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode ipfs add response: %w", err)
	}
	if result.Hash == "" {
		return "", errors.New("ipfs add returned no content id")
	}

	c.log.Debug("published object", "cid", result.Hash, "bytes", len(data))
	return result.Hash, nil
}

// Get fetches the content for cid and decodes it as JSON into out.
func (c *Client) Get(ctx context.Context, cid string, out any) error {
	if cid == "" {
		return errors.New("content id is required")
	}

	u := fmt.Sprintf("%s/api/v0/cat?arg=%s", c.cfg.APIURL, url.QueryEscape(cid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ipfs cat failed for %s: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{status: resp.StatusCode, body: string(msg)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode content %s: %w", cid, err)
	}
	return nil
}
