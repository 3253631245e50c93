package cacheserver

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVersion = "c19da02a2bd7e77277f1ac29ab45c09b7d46a4ee758284e26bb3045ad11d9d20"

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cacheserver")
	srv, err := Start(context.Background(), dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv, srv.ExternalURL() + urlBase
}

func uploadEntry(t *testing.T, base, key, version string, content []byte) uint64 {
	t.Helper()

	body, err := json.Marshal(&reserveRequest{Key: key, Version: version, Size: int64(len(content))})
	require.NoError(t, err)
	resp, err := http.Post(base+"/caches", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var reserved struct {
		CacheID uint64 `json:"cacheId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reserved))
	require.NotZero(t, reserved.CacheID)

	req, err := http.NewRequest(http.MethodPatch,
		fmt.Sprintf("%s/caches/%d", base, reserved.CacheID), bytes.NewReader(content))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Range", fmt.Sprintf("bytes 0-%d/*", len(content)-1))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	resp, err = http.Post(fmt.Sprintf("%s/caches/%d", base, reserved.CacheID), "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	return reserved.CacheID
}

func TestServer(t *testing.T) {
	srv, base := startServer(t)

	t.Run("find miss", func(t *testing.T) {
		resp, err := http.Get(fmt.Sprintf("%s/cache?keys=%s&version=%s", base, strings.ToLower(t.Name()), testVersion))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 204, resp.StatusCode)
	})

	t.Run("round trip", func(t *testing.T) {
		key := strings.ToLower(t.Name())
		content := make([]byte, 256)
		_, err := rand.Read(content)
		require.NoError(t, err)
		uploadEntry(t, base, key, testVersion, content)

		resp, err := http.Get(fmt.Sprintf("%s/cache?keys=%s&version=%s", base, key, testVersion))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, 200, resp.StatusCode)

		var found struct {
			Result          string `json:"result"`
			ArchiveLocation string `json:"archiveLocation"`
			CacheKey        string `json:"cacheKey"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
		assert.Equal(t, "hit", found.Result)
		assert.Equal(t, key, found.CacheKey)

		got, err := http.Get(found.ArchiveLocation)
		require.NoError(t, err)
		defer got.Body.Close()
		data, err := io.ReadAll(got.Body)
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("prefix fallback", func(t *testing.T) {
		key := strings.ToLower(t.Name())
		uploadEntry(t, base, key+"-old", testVersion, []byte("old content"))

		resp, err := http.Get(fmt.Sprintf("%s/cache?keys=%s-new,%s-&version=%s", base, key, key, testVersion))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, 200, resp.StatusCode)

		var found struct {
			CacheKey string `json:"cacheKey"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
		assert.Equal(t, key+"-old", found.CacheKey)
	})

	t.Run("duplicate reserve rejected", func(t *testing.T) {
		key := strings.ToLower(t.Name())
		uploadEntry(t, base, key, testVersion, []byte("content"))

		body, err := json.Marshal(&reserveRequest{Key: key, Version: testVersion, Size: 7})
		require.NoError(t, err)
		resp, err := http.Post(base+"/caches", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("upload without reserve", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPatch, base+"/caches/9999", bytes.NewReader([]byte("x")))
		require.NoError(t, err)
		req.Header.Set("Content-Range", "bytes 0-0/*")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("management delete", func(t *testing.T) {
		key := strings.ToLower(t.Name())
		uploadEntry(t, base, key, testVersion, []byte("doomed"))

		u := fmt.Sprintf("%s/repos/octo/widgets/actions/caches?key=%s&ref=refs/heads/main", srv.ExternalURL(), key)
		req, err := http.NewRequest(http.MethodDelete, u, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 200, resp.StatusCode)

		resp, err = http.Get(fmt.Sprintf("%s/cache?keys=%s&version=%s", base, key, testVersion))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 204, resp.StatusCode)
	})

	t.Run("management delete not found", func(t *testing.T) {
		u := srv.ExternalURL() + "/repos/octo/widgets/actions/caches?key=no-such-key"
		req, err := http.NewRequest(http.MethodDelete, u, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, 404, resp.StatusCode)
	})

	t.Run("management list", func(t *testing.T) {
		key := strings.ToLower(t.Name())
		uploadEntry(t, base, key, testVersion, []byte("listed"))

		resp, err := http.Get(srv.ExternalURL() + "/repos/octo/widgets/actions/caches")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, 200, resp.StatusCode)

		var out struct {
			TotalCount    int `json:"total_count"`
			ActionsCaches []struct {
				Key         string `json:"key"`
				SizeInBytes int64  `json:"size_in_bytes"`
			} `json:"actions_caches"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.NotZero(t, out.TotalCount)
		var keys []string
		for _, e := range out.ActionsCaches {
			keys = append(keys, e.Key)
		}
		assert.Contains(t, keys, key)
	})
}

func TestParseContentRange(t *testing.T) {
	start, stop, err := parseContentRange("bytes 11-22/*")
	require.NoError(t, err)
	assert.Equal(t, int64(11), start)
	assert.Equal(t, int64(22), stop)

	_, _, err = parseContentRange("bytes whatever")
	assert.Error(t, err)
}
