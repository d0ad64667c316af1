package main

import (
	"github.com/spf13/cobra"

	"github.com/akam1o/arca-dataops/pkg/volume"
)

func newRestoreCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "restore VOLUME SNAPSHOT",
		Short: "Restore a volume to one of its snapshots",
		Long: `Restore a volume to one of its snapshots.

On the array backend the volume is reverted in place and every snapshot newer
than the restore point is removed. On the claim backend the volume is deleted,
keeping its snapshots, and recreated under the same name from the snapshot.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			vol, err := s.orch.Restores.Restore(cmd.Context(), volume.Ref{Scope: scope, Name: args[0]}, args[1])
			if err != nil {
				return err
			}
			return printVolumes(cmd.OutOrStdout(), o.output, []volumeView{newVolumeView(vol, nil)})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	return cmd
}
