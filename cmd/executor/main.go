// Command executor runs the in-cluster Kubently agent: it dials out to the
// fabric, holds an SSE stream for command delivery, executes allowlisted
// kubectl verbs, and posts results back.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubently/kubently/internal/executor"
	"github.com/kubently/kubently/internal/pkg/logger"
)

// Overridden at build time via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

const (
	exitConfig = 1
	exitAuth   = 2
)

func main() {
	root := &cobra.Command{
		Use:   "kubently-executor",
		Short: "Kubently per-cluster command executor",
		Long: "kubently-executor connects out to the Kubently fabric, executes " +
			"allowlisted kubectl commands inside its cluster, and posts the results " +
			"back. Configuration comes from KUBENTLY_* environment variables or " +
			"/etc/kubently/executor.yaml.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent()
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("kubently-executor {{.Version}} (commit %s)\n", commit))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the executor version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kubently-executor %s (commit %s)\n", version, commit)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kubently-executor: %v\n", err)
		if errors.Is(err, executor.ErrAuthRejected) {
			os.Exit(exitAuth)
		}
		os.Exit(exitConfig)
	}
}

func runAgent() error {
	cfg, err := executor.LoadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	agent, err := executor.NewAgent(cfg, version, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Executor starting",
		"cluster_id", cfg.ClusterID,
		"api_url", cfg.APIURL,
		"security_mode", cfg.SecurityMode,
		"version", version,
	)
	return agent.Run(ctx)
}
