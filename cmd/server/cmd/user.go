package cmd

import (
	"fmt"
	"strings"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/spf13/cobra"
)

func newUserCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Administer user accounts",
		Long: `Change the roles or organizer link of an existing account.

The user is identified by username or email. Role changes apply to tokens
issued after the change; a user must log in again to pick them up.

Examples:
  server user grant-role alice admin
  server user revoke-role alice admin
  server user link-organizer alice "Robotics Club"`,
	}

	roleCommand := func(use, short string, apply func(*accounts.Service, *cobra.Command, string, auth.Role) (*accounts.User, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <username|email> <role>",
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				role, ok := auth.NormalizeRole(args[1])
				if !ok || role == auth.RoleAnonymous {
					return fmt.Errorf("unknown role %q", args[1])
				}
				return withApplication(cmd, global, func(app *application) error {
					user, err := apply(app.accounts, cmd, args[0], role)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s roles: %s\n", user.Username, strings.Join(auth.RoleStrings(user.Roles), ", "))
					return nil
				})
			},
		}
	}

	grant := roleCommand("grant-role", "Add a role to a user",
		func(svc *accounts.Service, cmd *cobra.Command, identifier string, role auth.Role) (*accounts.User, error) {
			return svc.GrantRole(cmd.Context(), identifier, role)
		})
	revoke := roleCommand("revoke-role", "Remove a role from a user",
		func(svc *accounts.Service, cmd *cobra.Command, identifier string, role auth.Role) (*accounts.User, error) {
			return svc.RevokeRole(cmd.Context(), identifier, role)
		})

	link := &cobra.Command{
		Use:   "link-organizer <username|email> <organizer name>",
		Short: "Create an organizer and attach the user to it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, global, func(app *application) error {
				user, err := app.accounts.LinkOrganizer(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s linked to organizer %d (%s)\n", user.Username, *user.OrganizerID, user.OrganizerName)
				return nil
			})
		},
	}

	cmd.AddCommand(grant, revoke, link)
	return cmd
}

// withApplication opens the account stack for a one-shot admin command.
func withApplication(cmd *cobra.Command, global *globalOptions, fn func(*application) error) error {
	cfg, err := loadConfig(global)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	// Admin commands never touch the gate, so skip the ledger cache.
	cfg.Redis.URL = ""
	app, err := openApplication(cmd.Context(), cfg, newCommandLogger(cfg))
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
