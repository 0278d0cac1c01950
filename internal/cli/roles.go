package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRolesCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect and change role assignments",
	}
	var role string
	cmd.PersistentFlags().StringVar(&role, "role", "", "Role name (default: the configured admin role)")
	roleName := func() string {
		if role != "" {
			return role
		}
		return opts.cfg.ResolverConfig().Role.AdminRole
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "check <user-id>",
			Short: "Report whether a user holds the role",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				st, err := opts.stack(ctx)
				if err != nil {
					return err
				}
				defer st.close()

				ok, err := st.roles.HasRole(ctx, args[0], roleName())
				if err != nil {
					return fmt.Errorf("check role: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %t\n", args[0], roleName(), ok)
				return nil
			},
		},
		&cobra.Command{
			Use:   "grant <user-id>",
			Short: "Assign the role to a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				st, err := opts.stack(ctx)
				if err != nil {
					return err
				}
				defer st.close()

				w, err := st.writer()
				if err != nil {
					return err
				}
				if err := w.Grant(ctx, args[0], roleName()); err != nil {
					return fmt.Errorf("grant role: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %s to %s\n", roleName(), args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "revoke <user-id>",
			Short: "Remove the role from a user",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				st, err := opts.stack(ctx)
				if err != nil {
					return err
				}
				defer st.close()

				w, err := st.writer()
				if err != nil {
					return err
				}
				removed, err := w.Revoke(ctx, args[0], roleName())
				if err != nil {
					return fmt.Errorf("revoke role: %w", err)
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s did not hold %s\n", args[0], roleName())
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s from %s\n", roleName(), args[0])
				return nil
			},
		},
	)
	return cmd
}
