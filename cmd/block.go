package cmd

import (
	"github.com/spf13/cobra"
)

// newBlockCmd creates the 'block' subcommand. Blocking takes effect at
// enqueue and claim time; already stored content is untouched.
func newBlockCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "block HOST",
		Short: "Suppresses all crawl tasks for a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Store.Block(cmd.Context(), args[0], comment); err != nil {
				return err
			}
			cmd.Printf("blocked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "why the host is blocked")
	return cmd
}

// newUnblockCmd creates the 'unblock' subcommand.
func newUnblockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblock HOST",
		Short: "Removes a host from the blocklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Store.Unblock(cmd.Context(), args[0]); err != nil {
				return err
			}
			cmd.Printf("unblocked %s\n", args[0])
			return nil
		},
	}
}
