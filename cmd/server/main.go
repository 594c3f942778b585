package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "offline-store",
		Short:         "Offline downloads and storage quota for the music app",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default ./config.*)")

	cmd.AddCommand(
		runServeCommand(&configPath),
		runSyncCommand(&configPath),
		runValidateCommand(&configPath),
		runCleanupCommand(&configPath),
		runUsageCommand(&configPath),
	)
	return cmd
}
