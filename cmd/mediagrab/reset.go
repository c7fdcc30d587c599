package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mediagrab/pkg/models"
	"mediagrab/pkg/storage"
	"mediagrab/pkg/ui"
)

// resetCmd clears the stored result of a board
var resetCmd = &cobra.Command{
	Use:   "reset <board-url>",
	Short: "Forget everything collected for a board",
	Long: `Delete the stored result for a board so the next run starts from nothing.

Archives already saved to disk are not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "result storage: file, sqlite or memory")
}

func runReset(cmd *cobra.Command, args []string) error {
	target := models.Target(args[0])

	cfg, err := loadConfig(cmd, map[string]interface{}{"storage-driver": storageDriver})
	if err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	if err := store.Delete(context.Background(), target); err != nil {
		return err
	}

	ui.PrintSuccess("Cleared stored media for " + string(target))
	return nil
}
