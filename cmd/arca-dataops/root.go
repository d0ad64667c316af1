package main

import (
	"context"
	goflag "flag"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/akam1o/arca-dataops/pkg/config"
	"github.com/akam1o/arca-dataops/pkg/orchestrator"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "v0.1.0"

const defaultConfigPath = "/etc/arca-dataops/config.yaml"

// backendFactory connects to the configured backend. The returned locker is
// nil when locking is disabled.
type backendFactory func(ctx context.Context, cfg *config.Config, kubeconfig string) (orchestrator.Backend, orchestrator.Locker, error)

type rootOptions struct {
	configPath string
	kubeconfig string
	backend    string
	output     string

	newBackend backendFactory
}

// session is one loaded configuration with its connected backend.
type session struct {
	cfg     *config.Config
	backend orchestrator.Backend
	orch    *orchestrator.Orchestrator
}

func newRootCommand(factory backendFactory) *cobra.Command {
	o := &rootOptions{newBackend: factory}

	cmd := &cobra.Command{
		Use:           "arca-dataops",
		Short:         "Clone, snapshot and restore volumes with lineage tracking",
		Long:          `arca-dataops provisions, snapshots, clones and restores volumes on an ARCA array or as Kubernetes claims, recording where each volume came from.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch o.output {
			case outputTable, outputYAML:
				return nil
			default:
				return fmt.Errorf("--output must be %q or %q", outputTable, outputYAML)
			}
		},
	}

	klogFlags := goflag.NewFlagSet("klog", goflag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	cmd.PersistentFlags().StringVar(&o.kubeconfig, "kubeconfig", "", "Path to kubeconfig file (uses kubernetes.kubeconfig or in-cluster config if not specified)")
	cmd.PersistentFlags().StringVar(&o.backend, "backend", "", "Override the configured backend: array or claim")
	cmd.PersistentFlags().StringVarP(&o.output, "output", "o", outputTable, "Output format: table or yaml")

	cmd.AddCommand(
		newVolumeCommand(o),
		newSnapshotCommand(o),
		newCloneCommand(o),
		newRestoreCommand(o),
		newReplicationCommand(o),
		newCLICommand(o),
		newVersionCommand(),
	)
	return cmd
}

// connect loads the configuration and connects to its backend.
func (o *rootOptions) connect(ctx context.Context) (*session, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	klog.V(2).Infof("Using %s backend", cfg.Backend)

	backend, locker, err := o.newBackend(ctx, cfg, o.kubeconfig)
	if err != nil {
		return nil, err
	}

	opts := cfg.ToOrchestratorOptions()
	opts.Locker = locker
	return &session{
		cfg:     cfg,
		backend: backend,
		orch:    orchestrator.New(backend, opts),
	}, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "arca-dataops %s\n", version)
		},
	}
}
