// Package cacheserver emulates the remote cache service for tests: the
// chunked-transfer protocol used by the transfer client plus the management
// endpoints used for listing and eviction. It is deliberately not wired into
// the CLI; the product talks to a real service.
package cacheserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"

	"github.com/cachew-ci/cachew/pkg/common"
)

const urlBase = "/_apis/artifactcache"

// Server is a loopback-only cache service instance backed by a bolthold
// index and a disk store.
type Server struct {
	ctx      context.Context
	dir      string
	store    *diskStore
	listener net.Listener
	server   *http.Server
	logger   logrus.FieldLogger

	gcing int32
	gcAt  time.Time
}

// Start brings up a server on 127.0.0.1 with an ephemeral port, storing
// entries under dir.
func Start(ctx context.Context, dir string, logger logrus.FieldLogger) (*Server, error) {
	if logger == nil {
		discard := logrus.New()
		discard.Out = io.Discard
		logger = discard
	}
	s := &Server{
		ctx:    ctx,
		dir:    dir,
		logger: logger.WithField("module", "cacheserver"),
	}

	store, err := newDiskStore(dir + "/content")
	if err != nil {
		return nil, err
	}
	s.store = store

	router := httprouter.New()
	router.GET(urlBase+"/cache", s.middleware(s.find))
	router.POST(urlBase+"/caches", s.middleware(s.reserve))
	router.PATCH(urlBase+"/caches/:id", s.middleware(s.upload))
	router.POST(urlBase+"/caches/:id", s.middleware(s.commit))
	router.GET(urlBase+"/artifacts/:id", s.middleware(s.get))
	router.GET("/repos/:owner/:repo/actions/caches", s.middleware(s.listEntries))
	router.DELETE("/repos/:owner/:repo/actions/caches", s.middleware(s.deleteEntries))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		ReadHeaderTimeout: 2 * time.Second,
		Handler:           router,
	}
	common.Go(ctx, func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.listener = listener
	s.server = server

	return s, nil
}

// ExternalURL is the base URL clients should use.
func (s *Server) ExternalURL() string {
	return fmt.Sprintf("http://%s", s.listener.Addr().String())
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}
	var retErr error
	if s.server != nil {
		if err := s.server.Close(); err != nil {
			retErr = err
		}
		s.server = nil
	}
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			retErr = err
		}
		s.listener = nil
	}
	return retErr
}

func (s *Server) openDB() (*bolthold.Store, error) {
	return bolthold.Open(s.dir+"/index.db", 0o644, &bolthold.Options{
		Encoder: json.Marshal,
		Decoder: json.Unmarshal,
		Options: &bbolt.Options{
			Timeout:      5 * time.Second,
			NoGrowSync:   bbolt.DefaultOptions.NoGrowSync,
			FreelistType: bbolt.DefaultOptions.FreelistType,
		},
	})
}

// GET /_apis/artifactcache/cache
func (s *Server) find(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	keys := strings.Split(r.URL.Query().Get("keys"), ",")
	// keys are case insensitive
	for i, key := range keys {
		keys[i] = strings.ToLower(key)
	}
	version := r.URL.Query().Get("version")

	db, err := s.openDB()
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	defer db.Close()

	entry, err := s.findEntry(db, keys, version)
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	if entry == nil {
		s.responseJSON(w, r, 204)
		return
	}

	if ok, err := s.store.Exist(entry.ID); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	} else if !ok {
		_ = db.Delete(entry.ID, entry)
		s.responseJSON(w, r, 204)
		return
	}
	s.responseJSON(w, r, 200, map[string]any{
		"result":          "hit",
		"archiveLocation": fmt.Sprintf("%s%s/artifacts/%d", s.ExternalURL(), urlBase, entry.ID),
		"cacheKey":        entry.Key,
	})
}

// POST /_apis/artifactcache/caches
func (s *Server) reserve(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	req := &reserveRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.responseJSON(w, r, 400, err)
		return
	}
	req.Key = strings.ToLower(req.Key)

	entry := req.toEntry()
	db, err := s.openDB()
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	defer db.Close()

	if err := db.FindOne(entry, bolthold.Where("KeyVersionHash").Eq(entry.KeyVersionHash)); err != nil {
		if !errors.Is(err, bolthold.ErrNotFound) {
			s.responseJSON(w, r, 500, err)
			return
		}
	} else {
		s.responseJSON(w, r, 400, fmt.Errorf("already exist"))
		return
	}

	now := time.Now().Unix()
	entry.CreatedAt = now
	entry.UsedAt = now
	if err := db.Insert(bolthold.NextSequence(), entry); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	// the sequence assigned the id, write it back
	if err := db.Update(entry.ID, entry); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	s.responseJSON(w, r, 200, map[string]any{
		"cacheId": entry.ID,
	})
}

// PATCH /_apis/artifactcache/caches/:id
func (s *Server) upload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entry, db, ok := s.incompleteEntry(w, r, params)
	if !ok {
		return
	}
	db.Close()

	start, _, err := parseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		s.responseJSON(w, r, 400, err)
		return
	}
	if err := s.store.WriteChunk(entry.ID, start, r.Body); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	s.touch(entry.ID)
	s.responseJSON(w, r, 200)
}

// POST /_apis/artifactcache/caches/:id
func (s *Server) commit(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	entry, db, ok := s.incompleteEntry(w, r, params)
	if !ok {
		return
	}
	db.Close()

	size, err := s.store.Commit(entry.ID, entry.Size)
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	// old clients reserve with an unknown size; record the real one
	entry.Size = size
	entry.Complete = true

	db, err = s.openDB()
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	defer db.Close()
	if err := db.Update(entry.ID, entry); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	s.responseJSON(w, r, 200)
}

// GET /_apis/artifactcache/artifacts/:id
func (s *Server) get(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id, err := strconv.ParseUint(params.ByName("id"), 10, 64)
	if err != nil {
		s.responseJSON(w, r, 400, err)
		return
	}
	s.touch(id)
	s.store.Serve(w, r, id)
}

// GET /repos/:owner/:repo/actions/caches
func (s *Server) listEntries(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	db, err := s.openDB()
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	defer db.Close()

	var entries []*Entry
	if err := db.Find(&entries, bolthold.Where("Complete").Eq(true)); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":               e.ID,
			"key":              e.Key,
			"version":          e.Version,
			"size_in_bytes":    e.Size,
			"created_at":       time.Unix(e.CreatedAt, 0).UTC().Format(time.RFC3339),
			"last_accessed_at": time.Unix(e.UsedAt, 0).UTC().Format(time.RFC3339),
		})
	}
	s.responseJSON(w, r, 200, map[string]any{
		"total_count":    len(out),
		"actions_caches": out,
	})
}

// DELETE /repos/:owner/:repo/actions/caches?key=&ref=
// The ref is accepted but not used for scoping; one server instance holds one
// repository's entries.
func (s *Server) deleteEntries(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	key := strings.ToLower(r.URL.Query().Get("key"))
	if key == "" {
		s.responseJSON(w, r, 400, fmt.Errorf("missing key"))
		return
	}

	db, err := s.openDB()
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	defer db.Close()

	var entries []*Entry
	if err := db.Find(&entries, bolthold.Where("Key").Eq(key)); err != nil {
		s.responseJSON(w, r, 500, err)
		return
	}
	if len(entries) == 0 {
		s.responseJSON(w, r, 404, fmt.Errorf("no cache entry for key %s", key))
		return
	}
	for _, e := range entries {
		s.store.Remove(e.ID)
		if err := db.Delete(e.ID, e); err != nil {
			s.responseJSON(w, r, 500, err)
			return
		}
	}
	s.responseJSON(w, r, 200, map[string]any{
		"total_count": len(entries),
	})
}

func (s *Server) middleware(handler httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.logger.Debugf("%s %s", r.Method, r.RequestURI)
		handler(w, r, params)
		common.Go(s.ctx, func() error {
			s.gc()
			return nil
		})
	}
}

// incompleteEntry loads the entry addressed by the :id param and rejects the
// request if it is unknown or already committed. The returned db is open only
// when ok is true.
func (s *Server) incompleteEntry(w http.ResponseWriter, r *http.Request, params httprouter.Params) (*Entry, *bolthold.Store, bool) {
	id, err := strconv.ParseUint(params.ByName("id"), 10, 64)
	if err != nil {
		s.responseJSON(w, r, 400, err)
		return nil, nil, false
	}
	db, err := s.openDB()
	if err != nil {
		s.responseJSON(w, r, 500, err)
		return nil, nil, false
	}
	entry := &Entry{}
	if err := db.Get(id, entry); err != nil {
		db.Close()
		if errors.Is(err, bolthold.ErrNotFound) {
			s.responseJSON(w, r, 400, fmt.Errorf("cache %d: not reserved", id))
			return nil, nil, false
		}
		s.responseJSON(w, r, 500, err)
		return nil, nil, false
	}
	if entry.Complete {
		db.Close()
		s.responseJSON(w, r, 400, fmt.Errorf("cache %d %q: already complete", entry.ID, entry.Key))
		return nil, nil, false
	}
	return entry, db, true
}

// findEntry looks for an exact (key, version) match first, then walks the
// fallback keys as prefixes, newest entry first. Returns (nil, nil) on miss.
func (s *Server) findEntry(db *bolthold.Store, keys []string, version string) (*Entry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	exact := &Entry{Key: keys[0], Version: version}
	exact.fillKeyVersionHash()
	if err := db.FindOne(exact, bolthold.Where("KeyVersionHash").Eq(exact.KeyVersionHash)); err != nil {
		if !errors.Is(err, bolthold.ErrNotFound) {
			return nil, err
		}
	} else if exact.Complete {
		return exact, nil
	}

	stop := errors.New("stop")
	for _, prefix := range keys[1:] {
		re, err := regexp.Compile("^" + regexp.QuoteMeta(prefix))
		if err != nil {
			continue
		}
		var found *Entry
		if err := db.ForEach(bolthold.Where("Key").RegExp(re).And("Version").Eq(version).SortBy("CreatedAt").Reverse(), func(e *Entry) error {
			if !strings.HasPrefix(e.Key, prefix) {
				return stop
			}
			if e.Complete {
				found = e
				return stop
			}
			return nil
		}); err != nil && !errors.Is(err, stop) {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

func (s *Server) touch(id uint64) {
	db, err := s.openDB()
	if err != nil {
		return
	}
	defer db.Close()
	entry := &Entry{}
	if err := db.Get(id, entry); err != nil {
		return
	}
	entry.UsedAt = time.Now().Unix()
	_ = db.Update(entry.ID, entry)
}

// gc drops incomplete uploads that stalled, entries unused for a week, and
// entries older than a month. Runs at most once an hour.
func (s *Server) gc() {
	if !atomic.CompareAndSwapInt32(&s.gcing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&s.gcing, 0)

	if time.Since(s.gcAt) < time.Hour {
		return
	}
	s.gcAt = time.Now()
	s.logger.Debugf("gc: %v", s.gcAt)

	const (
		keepUsed   = 30 * 24 * time.Hour
		keepUnused = 7 * 24 * time.Hour
		keepStale  = 5 * time.Minute
	)

	db, err := s.openDB()
	if err != nil {
		return
	}
	defer db.Close()

	now := time.Now()
	policies := []struct {
		query          *bolthold.Query
		incompleteOnly bool
	}{
		{bolthold.Where("UsedAt").Lt(now.Add(-keepStale).Unix()), true},
		{bolthold.Where("UsedAt").Lt(now.Add(-keepUnused).Unix()), false},
		{bolthold.Where("CreatedAt").Lt(now.Add(-keepUsed).Unix()), false},
	}
	for _, p := range policies {
		var entries []*Entry
		if err := db.Find(&entries, p.query); err != nil {
			s.logger.Warnf("gc find: %v", err)
			continue
		}
		for _, e := range entries {
			if p.incompleteOnly && e.Complete {
				continue
			}
			s.store.Remove(e.ID)
			if err := db.Delete(e.ID, e); err != nil {
				s.logger.Warnf("gc delete: %v", err)
				continue
			}
			s.logger.Infof("gc deleted entry %d %q", e.ID, e.Key)
		}
	}
}

func (s *Server) responseJSON(w http.ResponseWriter, r *http.Request, code int, v ...any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	var data []byte
	if len(v) == 0 || v[0] == nil {
		data, _ = json.Marshal(struct{}{})
	} else if err, ok := v[0].(error); ok {
		s.logger.Errorf("%v %v: %v", r.Method, r.RequestURI, err)
		data, _ = json.Marshal(map[string]any{
			"message": err.Error(),
		})
	} else {
		data, _ = json.Marshal(v[0])
	}
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// parseContentRange supports the "bytes 11-22/*" form only.
func parseContentRange(s string) (int64, int64, error) {
	s, _, _ = strings.Cut(strings.TrimPrefix(s, "bytes "), "/")
	s1, s2, _ := strings.Cut(s, "-")

	start, err := strconv.ParseInt(s1, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %q: %w", s, err)
	}
	stop, err := strconv.ParseInt(s2, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return start, stop, nil
}
