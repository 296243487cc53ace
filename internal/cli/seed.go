package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iliyamo/parking-reservation/internal/app"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

type seedResult struct {
	Email   string `json:"email"`
	Created bool   `json:"created"`
}

// NewSeedAdminCommand creates `seed-admin`.  Flags override the
// PARKING_ADMIN_* variables.
func NewSeedAdminCommand(rootOpts *RootOptions) *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the administrator account if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logg, err := rootOpts.env(cmd)
			if err != nil {
				return err
			}
			if email == "" {
				email = cfg.Admin.Email
			}
			if name == "" {
				name = cfg.Admin.Name
			}
			if password == "" {
				password = cfg.Admin.Password
			}
			if email == "" || password == "" {
				return errors.New("admin email and password are required (flags or PARKING_ADMIN_EMAIL/PARKING_ADMIN_PASSWORD)")
			}

			ctx := cmd.Context()
			store, err := app.OpenStore(ctx, cfg.DB, cfg.DB.AutoMigrate, logg)
			if err != nil {
				return err
			}
			defer store.DB().Close()

			users := repository.NewUserRepo(store.DB(), store.Dialect())
			created, err := users.EnsureAdmin(ctx, repository.NewUser{Email: email, Name: name, Password: password}, cfg.JWT.BcryptCost)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("admin %s already exists", email)
			if created {
				text = fmt.Sprintf("admin %s created", email)
			}
			return rootOpts.emit(cmd.OutOrStdout(), text, seedResult{Email: email, Created: created})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "admin email")
	cmd.Flags().StringVar(&name, "name", "", "admin display name")
	cmd.Flags().StringVar(&password, "password", "", "admin password")
	return cmd
}
