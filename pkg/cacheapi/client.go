// Package cacheapi is a thin client for the cache management REST endpoints:
// listing cache entries and deleting one scoped to a repository and ref.
// Timeouts and retries are the caller's concern.
package cacheapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound reports that the service knows no entry for the requested key
// and ref.
var ErrNotFound = errors.New("cache entry not found")

type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func New(apiURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   token,
		client:  http.DefaultClient,
	}
}

// Entry is one cache entry as reported by the management API.
type Entry struct {
	ID             int64  `json:"id"`
	Ref            string `json:"ref"`
	Key            string `json:"key"`
	Version        string `json:"version"`
	SizeInBytes    int64  `json:"size_in_bytes"`
	CreatedAt      string `json:"created_at"`
	LastAccessedAt string `json:"last_accessed_at"`
}

// DeleteEntry deletes the entry stored under key for the given ref. Returns
// ErrNotFound when the service reports no such entry; only a 404 gets that
// treatment, every other non-2xx status is a generic error.
func (c *Client) DeleteEntry(ctx context.Context, owner, repo, key, ref string) error {
	query := url.Values{"key": {key}}
	if ref != "" {
		query.Set("ref", ref)
	}
	u := fmt.Sprintf("%s/repos/%s/%s/actions/caches?%s", c.baseURL, owner, repo, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return errors.Wrap(err, "delete cache entry")
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "delete cache entry")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError("delete cache entry", resp)
	}
	return nil
}

// ListEntries returns the entries stored for the repository, optionally
// narrowed to one ref.
func (c *Client) ListEntries(ctx context.Context, owner, repo, ref string) ([]Entry, error) {
	u := fmt.Sprintf("%s/repos/%s/%s/actions/caches", c.baseURL, owner, repo)
	if ref != "" {
		u += "?" + url.Values{"ref": {ref}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list cache entries")
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "list cache entries")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("list cache entries", resp)
	}
	var out struct {
		TotalCount    int     `json:"total_count"`
		ActionsCaches []Entry `json:"actions_caches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "list cache entries")
	}
	return out.ActionsCaches, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func apiError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		msg = payload.Message
	}
	return errors.Errorf("%s: %s: %s", op, resp.Status, msg)
}
