package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vhorizon/authstate"
)

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Resolve the current session once and print it",
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

			printStatus(cmd.OutOrStdout(), r.Initialize(ctx))
			return nil
		},
	}
}

func printStatus(w io.Writer, res authstate.InitResult) {
	snap := res.Snapshot
	fmt.Fprintf(w, "Outcome:  %s\n", res.Outcome)
	fmt.Fprintf(w, "Source:   %s\n", res.Source)
	fmt.Fprintf(w, "Elapsed:  %s\n", res.Elapsed)
	if res.TimedOut {
		fmt.Fprintln(w, "  (primary fetch timed out)")
	}
	if res.PrimaryErr != nil {
		fmt.Fprintf(w, "  Primary:  %v\n", res.PrimaryErr)
	}
	if snap.User == nil {
		fmt.Fprintln(w, "User:     (none)")
		return
	}
	fmt.Fprintf(w, "User:     %s <%s>\n", snap.User.ID, snap.User.Email)
	fmt.Fprintf(w, "Admin:    %t\n", snap.IsAdmin)
}
