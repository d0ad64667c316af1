package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akam1o/arca-dataops/pkg/orchestrator"
	"github.com/akam1o/arca-dataops/pkg/volume"
)

func newReplicationCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "replication",
		Aliases: []string{"repl"},
		Short:   "Manage asynchronous replication relationships (array backend)",
	}
	cmd.AddCommand(
		newReplicationCreateCommand(o),
		newReplicationGetCommand(o),
		newReplicationListCommand(o),
		newReplicationSyncCommand(o),
	)
	return cmd
}

func newReplicationCreateCommand(o *rootOptions) *cobra.Command {
	var (
		sourceScope      string
		destinationScope string
		opts             orchestrator.ReplicationOptions
	)
	cmd := &cobra.Command{
		Use:   "create SOURCE DESTINATION",
		Short: "Create a replication relationship between two volumes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			source := volume.Ref{Scope: sourceScope, Name: args[0]}
			destination := volume.Ref{Scope: destinationScope, Name: args[1]}
			r, err := s.orch.Replication.CreateRelationship(cmd.Context(), source, destination, opts)
			if err != nil {
				return err
			}
			return printReplications(cmd.OutOrStdout(), o.output, []replicationView{newReplicationView(r)})
		},
	}
	cmd.Flags().StringVar(&sourceScope, "source-scope", "", "SVM of the source volume")
	cmd.Flags().StringVar(&destinationScope, "destination-scope", "", "SVM of the destination volume")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "Replication policy")
	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "Transfer schedule")
	cmd.Flags().BoolVar(&opts.CreateDestination, "create-destination", false, "Provision the destination volume")
	cmd.Flags().BoolVar(&opts.Sync, "sync", false, "Run and wait for the initial transfer")
	return cmd
}

func newReplicationGetCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get UUID",
		Short: "Show a replication relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			r, err := s.orch.Replication.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printReplications(cmd.OutOrStdout(), o.output, []replicationView{newReplicationView(r)})
		},
	}
}

func newReplicationListCommand(o *rootOptions) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List replication relationships by destination SVM",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			rs, err := s.orch.Replication.List(cmd.Context(), scope)
			if err != nil {
				return err
			}
			views := make([]replicationView, 0, len(rs))
			for i := range rs {
				views = append(views, newReplicationView(&rs[i]))
			}
			return printReplications(cmd.OutOrStdout(), o.output, views)
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "Destination SVM")
	return cmd
}

func newReplicationSyncCommand(o *rootOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "sync UUID",
		Short: "Start a transfer on a replication relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.connect(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.orch.Replication.Sync(cmd.Context(), args[0], wait); err != nil {
				return err
			}
			if wait {
				fmt.Fprintf(cmd.OutOrStdout(), "replication %s transferred\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "replication %s transfer started\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the transfer to finish")
	return cmd
}
