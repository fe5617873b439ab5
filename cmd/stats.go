package cmd

import (
	"github.com/spf13/cobra"
)

// newStatsCmd creates the 'stats' subcommand.
func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [HOST]",
		Short: "Shows queue counts, or fetch stats for one host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 {
				stats, err := svc.Store.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				cmd.Printf("host\t%s\nsuccesses\t%d\nproblems\t%d\nfirst seen\t%s\nlast seen\t%s\n",
					stats.Host, stats.SuccessCount, stats.ProblemCount,
					stats.FirstSeen.Format("2006-01-02 15:04:05"),
					stats.LastSeen.Format("2006-01-02 15:04:05"))
				return nil
			}
			counts, err := svc.Store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("pending\t%d\ntransient failures\t%d\npermanent failures\t%d\n",
				counts.Pending, counts.Transient, counts.Permanent)
			return nil
		},
	}
	return cmd
}
