package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/store"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the chat store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.LoadConfig()
			db, err := store.Open(cmd.Context(), cfg.DatabaseURL, cfg.SQLitePath, true)
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.DatabaseURL != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", logging.Mask(cfg.DatabaseURL))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %s\n", cfg.SQLitePath)
			}
			return nil
		},
	}
}
