package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

// volumeFlags are the creation options shared by volume create and clone.
type volumeFlags struct {
	size            string
	storageClass    string
	accessMode      string
	exportPolicy    string
	exportHosts     []string
	snapshotPolicy  string
	unixUID         string
	unixGID         string
	unixPermissions string
	junctionPath    string
}

func (f *volumeFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.size, "size", "", "Volume size, e.g. 10Gi (claim) or 10GB (array)")
	fs.StringVar(&f.storageClass, "storage-class", "", "Storage class (claim backend)")
	fs.StringVar(&f.accessMode, "access-mode", "", "Access mode (claim backend)")
	fs.StringVar(&f.exportPolicy, "export-policy", "", "Export policy (array backend)")
	fs.StringSliceVar(&f.exportHosts, "export-hosts", nil, "Client hosts or CIDRs allowed to mount (array backend)")
	fs.StringVar(&f.snapshotPolicy, "snapshot-policy", "", "Snapshot policy (array backend)")
	fs.StringVar(&f.unixUID, "uid", "", "Owner user ID (array backend)")
	fs.StringVar(&f.unixGID, "gid", "", "Owner group ID (array backend)")
	fs.StringVar(&f.unixPermissions, "permissions", "", "Unix permissions, e.g. 0755 (array backend)")
	fs.StringVar(&f.junctionPath, "junction-path", "", "Junction path (array backend)")
}

func newVolumeCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "volume",
		Aliases: []string{"vol"},
		Short:   "Manage volumes",
	}
	cmd.AddCommand(
		newVolumeCreateCommand(o),
		newVolumeGetCommand(o),
		newVolumeListCommand(o),
		newVolumeDeleteCommand(o),
	)
	return cmd
}

func newVolumeCreateCommand(o *rootOptions) *cobra.Command {
	var (
		scope           string
		style           string
		aggregates      []string
		snapshotReserve int32
		flags           volumeFlags
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a volume and wait until it is bound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			spec := volume.Spec{
				Ref:             volume.Ref{Scope: scope, Name: args[0]},
				Size:            flags.size,
				StorageClass:    flags.storageClass,
				AccessMode:      flags.accessMode,
				Style:           volume.Style(style),
				Aggregates:      aggregates,
				ExportPolicy:    flags.exportPolicy,
				ExportHosts:     flags.exportHosts,
				SnapshotPolicy:  flags.snapshotPolicy,
				UnixUID:         flags.unixUID,
				UnixGID:         flags.unixGID,
				UnixPermissions: flags.unixPermissions,
				JunctionPath:    flags.junctionPath,
			}
			if cmd.Flags().Changed("snapshot-reserve") {
				spec.SnapshotReserve = &snapshotReserve
			}
			vol, err := s.orch.Volumes.Create(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return printVolumes(cmd.OutOrStdout(), o.output, []volumeView{newVolumeView(vol, nil)})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume (defaults to the configured one)")
	cmd.Flags().StringVar(&style, "style", "", "Volume style: flexvol or flexgroup (array backend)")
	cmd.Flags().StringSliceVar(&aggregates, "aggregates", nil, "Aggregates to place the volume on (array backend)")
	cmd.Flags().Int32Var(&snapshotReserve, "snapshot-reserve", 0, "Snapshot reserve percentage (array backend)")
	flags.bind(cmd.Flags())
	return cmd
}

func newVolumeGetCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "get NAME",
		Short: "Show a volume and the resolved state of its sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := s.orch.Volumes.Get(cmd.Context(), volume.Ref{Scope: scope, Name: args[0]})
			if err != nil {
				return err
			}
			return printVolumes(cmd.OutOrStdout(), o.output, []volumeView{newVolumeView(&entry.Volume, entry)})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	return cmd
}

func newVolumeListCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List volumes with their lineage",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := s.orch.Volumes.List(cmd.Context(), scope)
			if err != nil {
				return err
			}
			views := make([]volumeView, 0, len(entries))
			for i := range entries {
				views = append(views, newVolumeView(&entries[i].Volume, &entries[i]))
			}
			return printVolumes(cmd.OutOrStdout(), o.output, views)
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM to list")
	return cmd
}

func newVolumeDeleteCommand(o *rootOptions) *cobra.Command {
	var (
		scope         string
		keepSnapshots bool
	)
	cmd := &cobra.Command{
		Use:     "delete NAME",
		Aliases: []string{"rm"},
		Short:   "Delete a volume and, unless kept, its snapshots",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			ref := volume.Ref{Scope: scope, Name: args[0]}
			opts := orchestrator.DeleteOptions{CascadeSnapshots: !keepSnapshots}
			if err := s.orch.Volumes.Delete(cmd.Context(), ref, opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "volume %s deleted\n", ref)
			return nil
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	cmd.Flags().BoolVar(&keepSnapshots, "keep-snapshots", false, "Keep the volume's snapshots")
	return cmd
}
