package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/akam1o/arca-dataops/pkg/opserr"
	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// parseSnapshotArg splits "VOLUME@SNAPSHOT".
func parseSnapshotArg(scope, arg string) (volume.SnapshotRef, error) {
	vol, snap, ok := strings.Cut(arg, "@")
	if !ok || vol == "" || snap == "" {
		return volume.SnapshotRef{}, opserr.Newf(opserr.ErrInvalidSnapshotParameter, "clone", arg,
			"snapshot must be given as VOLUME@SNAPSHOT")
	}
	return volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: vol}, Name: snap}, nil
}

func newCloneCommand(o *rootOptions) *cobra.Command {
	var (
		scope         string
		sourceScope   string
		fromVolume    string
		fromSnapshot  string
		snapshotClass string
		refresh       bool
		split         bool
		flags         volumeFlags
	)
	cmd := &cobra.Command{
		Use:   "clone NAME",
		Short: "Create a volume from another volume or a snapshot",
		Long: `Create a volume from another volume or a snapshot.

Cloning a volume first takes a transient snapshot of it. The new volume
records its source volume and snapshot so list and get can report whether
they still exist.`,
		Example: `  arca-dataops clone project1-dev --from-volume project1
  arca-dataops clone project1-dev --from-snapshot project1@nightly --refresh`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var source orchestrator.Source
			if fromVolume != "" {
				source = orchestrator.FromVolume(volume.Ref{Scope: sourceScope, Name: fromVolume})
			} else {
				ref, err := parseSnapshotArg(sourceScope, fromSnapshot)
				if err != nil {
					return err
				}
				source = orchestrator.FromSnapshot(ref)
			}

			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			opts := orchestrator.CloneOptions{
				Size:            flags.size,
				StorageClass:    flags.storageClass,
				AccessMode:      flags.accessMode,
				UnixUID:         flags.unixUID,
				UnixGID:         flags.unixGID,
				UnixPermissions: flags.unixPermissions,
				ExportPolicy:    flags.exportPolicy,
				ExportHosts:     flags.exportHosts,
				SnapshotPolicy:  flags.snapshotPolicy,
				JunctionPath:    flags.junctionPath,
				SnapshotClass:   snapshotClass,
				Refresh:         refresh,
				Split:           split,
			}
			vol, err := s.orch.Clones.Clone(cmd.Context(), volume.Ref{Scope: scope, Name: args[0]}, source, opts)
			if err != nil {
				return err
			}
			return printVolumes(cmd.OutOrStdout(), o.output, []volumeView{newVolumeView(vol, nil)})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the new volume (defaults to the source's)")
	cmd.Flags().StringVar(&sourceScope, "source-scope", "", "Namespace or SVM of the source")
	cmd.Flags().StringVar(&fromVolume, "from-volume", "", "Clone the current content of this volume")
	cmd.Flags().StringVar(&fromSnapshot, "from-snapshot", "", "Clone this snapshot, given as VOLUME@SNAPSHOT")
	cmd.Flags().StringVar(&snapshotClass, "snapshot-class", "", "VolumeSnapshotClass for the transient snapshot (claim backend)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Replace an existing volume previously created by this tool")
	cmd.Flags().BoolVar(&split, "split", false, "Split the clone from its parent (array backend)")
	flags.bind(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("from-volume", "from-snapshot")
	cmd.MarkFlagsOneRequired("from-volume", "from-snapshot")
	return cmd
}
