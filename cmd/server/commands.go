package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"offline-store/internal/config"
)

// runSyncCommand rebuilds the catalog from the ledger and reports the result.
func runSyncCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile offline tracks with the remote ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			a.settings.Load()
			if err := a.catalog.SyncWithLedger(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("%d offline tracks\n", len(a.catalog.OfflineTracks()))
			return nil
		},
	}
}

func runValidateCommand(configPath *string) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Drop offline tracks whose audio files are missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *configPath, func(cfg *config.Config) {
				if prune {
					cfg.Offline.PruneLedgerOnValidate = true
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.catalog.SyncWithLedger(cmd.Context()); err != nil {
				return err
			}
			dropped, err := a.catalog.ValidateOfflineFiles(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Dropped: %d\n", len(dropped))
			for _, id := range dropped {
				cmd.Printf("  - %s\n", id)
			}
			if prune && len(dropped) > 0 {
				cmd.Println("Ledger rows pruned.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "Also delete the ledger rows of dropped tracks")
	return cmd
}

func runCleanupCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete files in the download directory that no offline track owns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.catalog.SyncWithLedger(cmd.Context()); err != nil {
				return err
			}
			removed, err := a.catalog.CleanupOfflineFiles(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Removed: %d\n", len(removed))
			for _, name := range removed {
				cmd.Printf("  - %s\n", name)
			}
			return nil
		},
	}
}

func runUsageCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Print offline storage usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			a.settings.Load()
			if err := a.catalog.SyncWithLedger(cmd.Context()); err != nil {
				return err
			}
			if _, err := a.catalog.GetOfflineSize(cmd.Context()); err != nil {
				return err
			}
			usage := a.catalog.Usage()
			cmd.Printf("Tracks: %d\n", usage.Tracks)
			cmd.Printf("Used:   %s of %s\n",
				humanize.IBytes(uint64(max(usage.UsedBytes, 0))),
				humanize.IBytes(uint64(max(usage.MaxBytes, 0))))
			return nil
		},
	}
}
