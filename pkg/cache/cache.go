// Package cache contains the decision logic that runs around a workflow run's
// cache entry: whether caching is possible at all, which key to use, whether
// a restored entry makes saving pointless, and whether a stale entry must be
// evicted before re-upload. The byte transfer itself and the management API
// are collaborators behind small interfaces.
package cache

import (
	"context"

	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/model"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

// NoCacheID is the result of a run in which no upload happened, whether due
// to ineligibility, a deliberate skip, or a contained failure.
const NoCacheID int64 = -1

// Transferer moves archived paths to and from the cache service.
type Transferer interface {
	SaveCache(ctx context.Context, paths []string, key string, opts model.Options) (int64, error)
	RestoreCache(ctx context.Context, paths []string, primaryKey string, restoreKeys []string, opts model.Options) (string, error)
}

// EntryManager deletes entries through the management API. A missing entry is
// reported as cacheapi.ErrNotFound.
type EntryManager interface {
	DeleteEntry(ctx context.Context, owner, repo, key, ref string) error
}

// RunState is the key/value state shared between the restore and save phases.
type RunState interface {
	Get(name string) string
	Save(name, value string) error
	SetOutput(name, value string) error
}

// eligible is the gate both phases run first. It fails closed: no cache
// service means a silent skip, and a run that is not tied to a branch or tag
// ref cannot produce a reproducible entry.
func eligible(ctx context.Context, env *runenv.Environment) bool {
	logger := common.Logger(ctx)
	if !env.CacheAvailable(ctx) {
		logger.Infof("cache service is not available in this environment, skipping")
		return false
	}
	if env.Ref == "" {
		logger.Warnf("event %q is not supported because it is not tied to a branch or tag ref, skipping", env.EventName)
		return false
	}
	return true
}
