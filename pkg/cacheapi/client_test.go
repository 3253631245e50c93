package cacheapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("deleted", func(t *testing.T) {
		var gotPath, gotKey, gotRef, gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodDelete, r.Method)
			gotPath = r.URL.Path
			gotKey = r.URL.Query().Get("key")
			gotRef = r.URL.Query().Get("ref")
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		client := New(srv.URL, "token123")
		require.NoError(t, client.DeleteEntry(ctx, "octo", "widgets", "build-abc", "refs/heads/main"))
		assert.Equal(t, "/repos/octo/widgets/actions/caches", gotPath)
		assert.Equal(t, "build-abc", gotKey)
		assert.Equal(t, "refs/heads/main", gotRef)
		assert.Equal(t, "Bearer token123", gotAuth)
	})

	t.Run("not found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		err := New(srv.URL, "").DeleteEntry(ctx, "octo", "widgets", "gone", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"boom"}`))
		}))
		defer srv.Close()

		err := New(srv.URL, "").DeleteEntry(ctx, "octo", "widgets", "key", "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "boom")
	})
}

func TestListEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/widgets/actions/caches", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total_count": 1,
			"actions_caches": [
				{"id": 42, "ref": "refs/heads/main", "key": "build-abc", "size_in_bytes": 1024}
			]
		}`))
	}))
	defer srv.Close()

	entries, err := New(srv.URL, "").ListEntries(context.Background(), "octo", "widgets", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].ID)
	assert.Equal(t, "build-abc", entries[0].Key)
}
