package cache

import (
	"context"
	"strconv"
	"strings"

	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/model"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

// Restorer drives the restore pipeline that precedes a run: look the entry up
// under the primary key and the fallback keys, unpack it, and record in run
// state which key was asked for and which one matched. The save phase bases
// its hit/update decision on that state.
type Restorer struct {
	env      *runenv.Environment
	state    RunState
	transfer Transferer
}

func NewRestorer(env *runenv.Environment, state RunState, transfer Transferer) *Restorer {
	return &Restorer{
		env:      env,
		state:    state,
		transfer: transfer,
	}
}

// Run executes the restore pipeline for entry and returns the matched key,
// or "" on a miss. Like the save phase it never fails the surrounding run.
func (r *Restorer) Run(ctx context.Context, entry *model.Entry) string {
	var matched string
	err := Guard(func() error {
		var err error
		matched, err = r.restore(ctx, entry)
		return err
	})
	if err != nil {
		common.Logger(ctx).Warnf("failed to restore cache: %v", err)
		return ""
	}
	return matched
}

func (r *Restorer) restore(ctx context.Context, entry *model.Entry) (string, error) {
	logger := common.Logger(ctx)

	if !eligible(ctx, r.env) {
		return "", nil
	}
	if entry.Key == "" {
		logger.Warnf("key is not specified, not restoring cache")
		return "", nil
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}

	// Recorded before the lookup: the save phase must reuse this key even
	// when the restore misses.
	if err := r.state.Save(runenv.StateCacheKey, entry.Key); err != nil {
		return "", err
	}

	matched, err := r.transfer.RestoreCache(ctx, entry.Paths, entry.Key, entry.RestoreKeys, entry.Options())
	if err != nil {
		return "", err
	}
	if matched == "" {
		keys := append([]string{entry.Key}, entry.RestoreKeys...)
		logger.Infof("cache not found for keys: %s", strings.Join(keys, ", "))
		return "", nil
	}

	if err := r.state.Save(runenv.StateCacheMatched, matched); err != nil {
		return "", err
	}
	if err := r.state.SetOutput("cache-hit", strconv.FormatBool(matched == entry.Key)); err != nil {
		return "", err
	}
	logger.Infof("cache restored from key: %s", matched)
	return matched, nil
}
