package cmd

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachew-ci/cachew/pkg/cacheapi"
	"github.com/cachew-ci/cachew/pkg/runenv"
)

func newDeleteCommand(ctx context.Context, input *Input) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete cache entries for a key through the management API",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			env := runenv.Discover(ctx)
			client, err := managementClient(ctx, input, env)
			if err != nil {
				return err
			}

			err = client.DeleteEntry(ctx, env.Owner, env.Repo, args[0], input.ref)
			if errors.Is(err, cacheapi.ErrNotFound) {
				log.Infof("no cache entry found for key %s", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			log.Infof("deleted cache entries for key %s", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&input.ref, "ref", "", "only delete entries scoped to this ref")
	return cmd
}

// managementClient builds a cacheapi client, falling back to the gh CLI for a
// token when GITHUB_TOKEN is unset.
func managementClient(ctx context.Context, input *Input, env *runenv.Environment) (*cacheapi.Client, error) {
	token := env.Token
	if token == "" {
		var err error
		if token, err = runenv.GhCLIToken(ctx, input.Workdir(env)); err != nil {
			return nil, errors.Wrap(err, "no GITHUB_TOKEN set and no gh CLI token available")
		}
	}
	return cacheapi.New(env.APIURL, token), nil
}
