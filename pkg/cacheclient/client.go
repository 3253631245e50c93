// Package cacheclient implements the chunked-transfer protocol spoken by
// act-compatible cache services: look up an entry by keys and version,
// reserve one, upload its archive in chunks, commit, download. One pass, no
// retries; retry policy belongs to the caller if anywhere.
package cacheclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/model"
)

const urlBase = "/_apis/artifactcache"

type Client struct {
	base    string
	workdir string
	client  *http.Client
}

// New returns a client for the service at cacheURL, archiving and restoring
// paths relative to workdir.
func New(cacheURL, workdir string) *Client {
	return &Client{
		base:    strings.TrimRight(cacheURL, "/") + urlBase,
		workdir: workdir,
		client:  http.DefaultClient,
	}
}

// SaveCache archives paths and stores them under key, returning the new
// cache id.
func (c *Client) SaveCache(ctx context.Context, paths []string, key string, opts model.Options) (int64, error) {
	logger := common.Logger(ctx)
	// the service treats keys case insensitively
	key = strings.ToLower(key)

	tmp, err := os.CreateTemp("", "cachew-*.tar.zst")
	if err != nil {
		return 0, errors.Wrap(err, "create temp archive")
	}
	archivePath := tmp.Name()
	tmp.Close()
	defer os.Remove(archivePath)

	size, err := pack(ctx, c.workdir, paths, archivePath)
	if err != nil {
		return 0, err
	}
	logger.Debugf("archived %d bytes for key %s", size, key)

	id, err := c.reserve(ctx, key, version(paths, opts.CrossOSArchive), size)
	if err != nil {
		return 0, err
	}
	if err := c.uploadChunks(ctx, id, archivePath, size, opts.UploadChunkSize); err != nil {
		return 0, err
	}
	if err := c.commit(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// RestoreCache looks an entry up under the primary key and the fallback keys
// and unpacks it into the workdir. Returns the matched key, or "" on a miss.
func (c *Client) RestoreCache(ctx context.Context, paths []string, primaryKey string, restoreKeys []string, opts model.Options) (string, error) {
	keys := make([]string, 0, len(restoreKeys)+1)
	for _, k := range append([]string{primaryKey}, restoreKeys...) {
		keys = append(keys, strings.ToLower(k))
	}
	query := url.Values{
		"keys":    {strings.Join(keys, ",")},
		"version": {version(paths, opts.CrossOSArchive)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/cache?"+query.Encode(), nil)
	if err != nil {
		return "", errors.Wrap(err, "look up cache")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "look up cache")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusNotFound:
		return "", nil
	case http.StatusOK:
	default:
		return "", responseError("look up cache", resp)
	}

	var found struct {
		ArchiveLocation string `json:"archiveLocation"`
		CacheKey        string `json:"cacheKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return "", errors.Wrap(err, "look up cache")
	}

	archivePath, err := c.download(ctx, found.ArchiveLocation)
	if err != nil {
		return "", err
	}
	defer os.Remove(archivePath)

	if err := unpack(ctx, archivePath, c.workdir); err != nil {
		return "", err
	}
	return found.CacheKey, nil
}

func (c *Client) reserve(ctx context.Context, key, version string, size int64) (int64, error) {
	body, err := json.Marshal(map[string]any{
		"key":       key,
		"version":   version,
		"cacheSize": size,
	})
	if err != nil {
		return 0, errors.Wrap(err, "reserve cache")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/caches", strings.NewReader(string(body)))
	if err != nil {
		return 0, errors.Wrap(err, "reserve cache")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "reserve cache")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, responseError("reserve cache", resp)
	}

	var reserved struct {
		CacheID int64 `json:"cacheId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reserved); err != nil {
		return 0, errors.Wrap(err, "reserve cache")
	}
	if reserved.CacheID == 0 {
		return 0, errors.New("reserve cache: no cache id returned")
	}
	return reserved.CacheID, nil
}

func (c *Client) uploadChunks(ctx context.Context, id int64, archivePath string, size, chunkSize int64) error {
	if chunkSize <= 0 {
		chunkSize = model.DefaultUploadChunkSize
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "upload cache")
	}
	defer f.Close()

	for offset := int64(0); offset < size; offset += chunkSize {
		n := min(chunkSize, size-offset)
		req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
			fmt.Sprintf("%s/caches/%d", c.base, id), io.NewSectionReader(f, offset, n))
		if err != nil {
			return errors.Wrap(err, "upload cache")
		}
		req.ContentLength = n
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", offset, offset+n-1))

		resp, err := c.client.Do(req)
		if err != nil {
			return errors.Wrap(err, "upload cache")
		}
		if resp.StatusCode != http.StatusOK {
			err = responseError("upload cache", resp)
			resp.Body.Close()
			return err
		}
		resp.Body.Close()
	}
	return nil
}

func (c *Client) commit(ctx context.Context, id int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/caches/%d", c.base, id), nil)
	if err != nil {
		return errors.Wrap(err, "commit cache")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "commit cache")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError("commit cache", resp)
	}
	return nil
}

// download fetches the archive into a temp file and returns its path.
func (c *Client) download(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", errors.Wrap(err, "download cache")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "download cache")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", responseError("download cache", resp)
	}

	tmp, err := os.CreateTemp("", "cachew-*.tar.zst")
	if err != nil {
		return "", errors.Wrap(err, "download cache")
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "download cache")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", errors.Wrap(err, "download cache")
	}
	return tmp.Name(), nil
}

func responseError(op string, resp *http.Response) error {
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
