package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vhorizon/authstate/jwt"
)

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Work with the persisted access token",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print the claims of the persisted access token without verifying it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := opts.stack(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			sess, err := st.auth.StoredSession(ctx)
			if err != nil {
				return err
			}
			if sess == nil {
				return errors.New("no persisted session")
			}
			claims, err := jwt.ParseUnverified(sess.AccessToken)
			if err != nil {
				return fmt.Errorf("parse access token: %w", err)
			}

			out := map[string]any{
				"sub":        claims.Subject,
				"email":      claims.Email,
				"role":       claims.Role,
				"session_id": claims.SessionID,
				"aal":        claims.AAL,
			}
			if exp := claims.ExpiresAtUnix(); exp > 0 {
				out["expires_at"] = time.Unix(exp, 0).UTC().Format(time.RFC3339)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	})
	return cmd
}
