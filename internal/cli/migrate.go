package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/parking-reservation/internal/database"
)

type migrateResult struct {
	Command string `json:"command"`
	Version int64  `json:"version"`
}

// NewMigrateCommand creates `migrate up|down|status`.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|status>",
		Short:     "Apply, roll back or inspect database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := rootOpts.env(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, dialect, err := database.Open(ctx, cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := database.Migrate(ctx, db, dialect, args[0])
			if err != nil {
				return err
			}
			return rootOpts.emit(cmd.OutOrStdout(),
				fmt.Sprintf("migrate %s: schema version %d", args[0], version),
				migrateResult{Command: args[0], Version: version})
		},
	}
}
