package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/akam1o/arca-dataops/pkg/arca"
	"github.com/akam1o/arca-dataops/pkg/opserr"
)

func newCLICommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cli -- COMMAND...",
		Short: "Run a raw command on the array for settings the API does not expose",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			b, ok := s.backend.(*arca.Backend)
			if !ok {
				return opserr.Newf(opserr.ErrUnsupported, "cli", "", "%s backend has no command passthrough", s.backend.Kind())
			}
			out, err := b.Client().RunCLI(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			if out != "" && !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}
