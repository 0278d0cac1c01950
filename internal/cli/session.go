package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSignInCmd(opts *options) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password and persist the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := opts.stack(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			sess, err := st.auth.SignInWithPassword(ctx, email, password)
			if err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (%s)\n", sess.User.Email, sess.UserID())
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newSignOutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out remotely and remove the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := opts.stack(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			r, err := st.resolver()
			if err != nil {
				return err
			}
			defer r.Close()
			r.Initialize(ctx)

			// Local state is cleared even when the remote call fails.
			if err := r.SignOut(ctx); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}
