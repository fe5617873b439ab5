package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates the 'migrate' subcommand for running schema
// migrations without starting workers.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the database schema and seeds reference data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.Store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate schema: %w", err)
			}
			if err := svc.Store.Seed(cmd.Context()); err != nil {
				return fmt.Errorf("seed reference data: %w", err)
			}
			cmd.Println("schema up to date")
			return nil
		},
	}
}
