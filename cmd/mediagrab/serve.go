package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mediagrab/internal/api"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/ui"
)

var serveAddr string

// serveCmd exposes the coordinator over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API",
	Long: `Serve a small JSON API for starting, stopping and resetting runs on any
number of boards, with an event stream at /api/events.

Archives are always saved to the configured output directory without asking.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "result storage: file, sqlite or memory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, map[string]interface{}{
		"addr":           serveAddr,
		"storage-driver": storageDriver,
	})
	if err != nil {
		return err
	}

	a, err := newApp(cfg, nil)
	if err != nil {
		return err
	}
	defer a.close()
	a.start()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		ui.PrintInfo("Listening on", cfg.Server.Addr)
	}

	srv := api.New(a.coord, a.bus, cfg.RunConfig(), logger.GetLogger())
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}
