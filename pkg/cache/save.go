package cache

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cachew-ci/cachew/pkg/cacheapi"
	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/model"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

// Saver drives the save pipeline: eligibility gate, key resolution,
// hit/update policy, stale entry eviction, upload.
type Saver struct {
	env      *runenv.Environment
	state    RunState
	transfer Transferer
	entries  EntryManager
}

func NewSaver(env *runenv.Environment, state RunState, transfer Transferer, entries EntryManager) *Saver {
	return &Saver{
		env:      env,
		state:    state,
		transfer: transfer,
		entries:  entries,
	}
}

// Run executes the save pipeline for entry and returns the new cache id, or
// NoCacheID when nothing was uploaded. It never fails: any error or panic is
// downgraded to a warning.
func (s *Saver) Run(ctx context.Context, entry *model.Entry) int64 {
	id := NoCacheID
	err := Guard(func() error {
		var err error
		id, err = s.save(ctx, entry)
		return err
	})
	if err != nil {
		common.Logger(ctx).Warnf("failed to save cache: %v", err)
		return NoCacheID
	}
	return id
}

func (s *Saver) save(ctx context.Context, entry *model.Entry) (int64, error) {
	logger := common.Logger(ctx)

	if !eligible(ctx, s.env) {
		return NoCacheID, nil
	}

	// Prefer the key the restore phase recorded, so the save uses the exact
	// key the restore used even if the configured key changed in between.
	primaryKey := s.state.Get(runenv.StateCacheKey)
	if primaryKey == "" {
		primaryKey = entry.Key
	}
	if primaryKey == "" {
		logger.Warnf("key is not specified, not saving cache")
		return NoCacheID, nil
	}

	restoredKey := s.state.Get(runenv.StateCacheMatched)
	switch Decide(primaryKey, restoredKey, entry.RefreshOnHit, s.env.Token != "") {
	case ActionSkip:
		if entry.RefreshOnHit {
			logger.Infof("cache hit occurred on %s and refresh is requested, but no token is available; set GITHUB_TOKEN to refresh the entry", primaryKey)
		} else {
			logger.Infof("cache hit occurred on the primary key %s, not saving cache", primaryKey)
		}
		return NoCacheID, nil
	case ActionUpdate:
		if err := s.evict(ctx, primaryKey); err != nil {
			return NoCacheID, err
		}
	}

	id, err := s.transfer.SaveCache(ctx, entry.Paths, primaryKey, entry.Options())
	if err != nil {
		return NoCacheID, err
	}
	if id != NoCacheID {
		logger.Infof("cache saved with key: %s", primaryKey)
	}
	return id, nil
}

// evict deletes the remote entry that is about to be replaced. The entry
// having disappeared already is a benign outcome; everything else aborts the
// save.
func (s *Saver) evict(ctx context.Context, key string) error {
	logger := common.Logger(ctx)
	logger.Debugf("deleting stale entry for key %s on %s", key, s.env.Ref)
	err := s.entries.DeleteEntry(ctx, s.env.Owner, s.env.Repo, key, s.env.Ref)
	if errors.Is(err, cacheapi.ErrNotFound) {
		logger.Infof("no stale entry found for key %s, proceeding with save", key)
		return nil
	}
	return errors.Wrapf(err, "evict %s", key)
}
