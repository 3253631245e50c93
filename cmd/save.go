package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachew-ci/cachew/pkg/cache"
	"github.com/cachew-ci/cachew/pkg/cacheapi"
	"github.com/cachew-ci/cachew/pkg/cacheclient"
	"github.com/cachew-ci/cachew/pkg/common"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

func newSaveCommand(ctx context.Context, input *Input) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save the configured paths to the cache after a run",
		Args:  cobra.NoArgs,
		RunE:  newSaveAction(ctx, input),
	}
	addEntryFlags(cmd, input)
	cmd.Flags().BoolVar(&input.refreshOnHit, "refresh", false, "evict and re-save the entry when the restore hit the primary key exactly")
	return cmd
}

func newSaveAction(ctx context.Context, input *Input) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		ctx := common.WithLogger(ctx, log.StandardLogger())
		env := runenv.Discover(ctx)

		entry, err := input.newEntry(env)
		if err != nil {
			return err
		}

		saver := cache.NewSaver(env, runenv.NewState(),
			cacheclient.New(env.CacheURL, input.Workdir(env)),
			cacheapi.New(env.APIURL, env.Token))
		saver.Run(ctx, entry)
		return nil
	}
}
