package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachew-ci/cachew/pkg/cache"
	"github.com/cachew-ci/cachew/pkg/cacheclient"
	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

func newRestoreCommand(ctx context.Context, input *Input) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the configured paths from the cache before a run",
		Args:  cobra.NoArgs,
		RunE:  newRestoreAction(ctx, input),
	}
	addEntryFlags(cmd, input)
	cmd.Flags().StringArrayVar(&input.restoreKeys, "restore-key", nil, "fallback key prefix to restore from on a miss (repeatable)")
	return cmd
}

func newRestoreAction(ctx context.Context, input *Input) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		ctx := common.WithLogger(ctx, log.StandardLogger())
		env := runenv.Discover(ctx)

		entry, err := input.newEntry(env)
		if err != nil {
			return err
		}

		restorer := cache.NewRestorer(env, runenv.NewState(),
			cacheclient.New(env.CacheURL, input.Workdir(env)))
		restorer.Run(ctx, entry)
		return nil
	}
}
