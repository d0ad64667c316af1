package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

func newSnapshotCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "snapshot",
		Aliases: []string{"snap"},
		Short:   "Manage volume snapshots",
	}
	cmd.AddCommand(
		newSnapshotCreateCommand(o),
		newSnapshotGetCommand(o),
		newSnapshotListCommand(o),
		newSnapshotDeleteCommand(o),
	)
	return cmd
}

func newSnapshotCreateCommand(o *rootOptions) *cobra.Command {
	var (
		scope            string
		name             string
		retentionCount   int
		retentionDays    int
		replicationLabel string
		snapshotClass    string
	)
	cmd := &cobra.Command{
		Use:   "create VOLUME",
		Short: "Snapshot a volume and wait until the snapshot is ready",
		Long: `Snapshot a volume and wait until the snapshot is ready.

With --retention-count or --retention-days the name is a family base name: a
timestamp is appended and older family members outside the window are deleted
once the new snapshot is ready.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			opts := orchestrator.SnapshotOptions{
				Name:             name,
				ReplicationLabel: replicationLabel,
				SnapshotClass:    snapshotClass,
			}
			if cmd.Flags().Changed("retention-count") || cmd.Flags().Changed("retention-days") {
				opts.Retention = &orchestrator.Retention{Count: retentionCount, Days: retentionDays}
			}
			snap, err := s.orch.Snapshots.Create(cmd.Context(), volume.Ref{Scope: scope, Name: args[0]}, opts)
			if err != nil {
				return err
			}
			return printSnapshots(cmd.OutOrStdout(), o.output, []snapshotView{newSnapshotView(snap, "")})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	cmd.Flags().StringVar(&name, "name", "", "Snapshot name, or family base name with retention (defaults to a timestamped name)")
	cmd.Flags().IntVar(&retentionCount, "retention-count", 0, "Keep this many snapshots of the family")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Keep snapshots of the family created within this many days")
	cmd.Flags().StringVar(&replicationLabel, "replication-label", "", "Replication label to attach (array backend)")
	cmd.Flags().StringVar(&snapshotClass, "snapshot-class", "", "VolumeSnapshotClass (claim backend)")
	cmd.MarkFlagsMutuallyExclusive("retention-count", "retention-days")
	return cmd
}

func newSnapshotGetCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "get VOLUME SNAPSHOT",
		Short: "Show a snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			ref := volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: args[0]}, Name: args[1]}
			snap, err := s.orch.Snapshots.Get(cmd.Context(), ref)
			if err != nil {
				return err
			}
			return printSnapshots(cmd.OutOrStdout(), o.output, []snapshotView{newSnapshotView(snap, "")})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	return cmd
}

func newSnapshotListCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:     "list VOLUME",
		Aliases: []string{"ls"},
		Short:   "List the snapshots of a volume",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := s.orch.Snapshots.List(cmd.Context(), volume.Ref{Scope: scope, Name: args[0]})
			if err != nil {
				return err
			}
			views := make([]snapshotView, 0, len(entries))
			for i := range entries {
				views = append(views, newSnapshotView(&entries[i].Snapshot, entries[i].SourceVolume))
			}
			return printSnapshots(cmd.OutOrStdout(), o.output, views)
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	return cmd
}

func newSnapshotDeleteCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:     "delete VOLUME SNAPSHOT",
		Aliases: []string{"rm"},
		Short:   "Delete a snapshot",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			ref := volume.SnapshotRef{Volume: volume.Ref{Scope: scope, Name: args[0]}, Name: args[1]}
			if err := s.orch.Snapshots.Delete(cmd.Context(), ref); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot %s deleted\n", ref)
			return nil
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Namespace or SVM of the volume")
	return cmd
}
