package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cachew-ci/cachew/pkg/runenv"
)

func newListCommand(ctx context.Context, input *Input) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the cache entries stored for the repository",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			env := runenv.Discover(ctx)
			client, err := managementClient(ctx, input, env)
			if err != nil {
				return err
			}

			entries, err := client.ListEntries(ctx, env.Owner, env.Repo, input.ref)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(c.OutOrStdout(), 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tREF\tSIZE\tLAST ACCESSED")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", entry.Key, entry.Ref, entry.SizeInBytes, entry.LastAccessedAt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&input.ref, "ref", "", "only list entries scoped to this ref")
	return cmd
}
