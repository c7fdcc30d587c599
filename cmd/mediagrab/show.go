package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"mediagrab/pkg/models"
	"mediagrab/pkg/storage"
	"mediagrab/pkg/ui"
)

var showJSON bool

// showResultCmd prints what is stored for a board
var showResultCmd = &cobra.Command{
	Use:   "show <board-url>",
	Short: "Show the media collected for a board",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.AddCommand(showResultCmd)
	showResultCmd.Flags().BoolVar(&showJSON, "json", false, "print the stored result as JSON")
	showResultCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "result storage: file, sqlite or memory")
}

func runShow(cmd *cobra.Command, args []string) error {
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

	result, err := store.Load(context.Background(), target)
	if err != nil {
		return err
	}

	if showJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	ui.PrintInfo("Board", string(target))
	ui.PrintInfo("Images", strconv.Itoa(len(result.Images)))
	ui.PrintInfo("Videos", strconv.Itoa(len(result.Videos)))
	for _, item := range result.Items() {
		fmt.Printf("  %s %s\n", ui.Dim(string(item.Kind)), item.URL)
	}
	return nil
}
