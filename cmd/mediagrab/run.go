package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mediagrab/pkg/delivery"
	"mediagrab/pkg/logger"
	"mediagrab/pkg/models"
	"mediagrab/pkg/ui"
)

var (
	// Run command flags
	archiveName   string
	folder        string
	stepPx        int
	interval      time.Duration
	scanEvery     time.Duration
	stallAfter    time.Duration
	outputDir     string
	saveAs        bool
	headless      bool
	storageDriver string
	archiveOnStop bool
)

// runCmd scrolls a board until it stalls and archives what it collected
var runCmd = &cobra.Command{
	Use:   "run <board-url>",
	Short: "Collect media from a board and save it as a zip archive",
	Long: `Open the board in a headless browser, scroll it until no new media shows up
for the stall window, then download every collected URL into a zip archive.

Press Ctrl-C to stop scrolling early. Whatever was collected so far is
archived unless --archive-on-stop=false is given, in which case it stays in
storage for a later run.`,
	Example: `  # Collect a board with default settings
  mediagrab run https://www.pinterest.com/someone/recipes/

  # Scroll slower and give the page more time before finishing
  mediagrab run https://www.pinterest.com/someone/recipes/ --interval 200ms --stall-after 6s

  # Choose the archive name and ask where to save it
  mediagrab run https://www.pinterest.com/someone/recipes/ --archive-name recipes --save-as`,
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&archiveName, "archive-name", "n", "", "archive file name (default from config)")
	runCmd.Flags().StringVar(&folder, "folder", "", "folder inside the archive (default from config)")
	runCmd.Flags().IntVar(&stepPx, "step-px", 0, "pixels scrolled per tick")
	runCmd.Flags().DurationVar(&interval, "interval", 0, "delay between scroll ticks")
	runCmd.Flags().DurationVar(&scanEvery, "scan-every", 0, "delay between page scans")
	runCmd.Flags().DurationVar(&stallAfter, "stall-after", 0, "finish after this long without new media")
	runCmd.Flags().StringVarP(&outputDir, "output", "o", "", "directory the archive is saved to")
	runCmd.Flags().BoolVar(&saveAs, "save-as", false, "ask for the archive file name before saving")
	runCmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	runCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "result storage: file, sqlite or memory")
	runCmd.Flags().BoolVar(&archiveOnStop, "archive-on-stop", true, "archive collected media when interrupted")
}

// runFlags collects the flags the user actually set
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := map[string]interface{}{
		"archive-name":   archiveName,
		"folder":         folder,
		"step-px":        stepPx,
		"interval":       interval,
		"scan-every":     scanEvery,
		"stall-after":    stallAfter,
		"output":         outputDir,
		"storage-driver": storageDriver,
	}
	if cmd.Flags().Changed("save-as") {
		flags["save-as"] = saveAs
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = headless
	}
	return flags
}

func runCollect(cmd *cobra.Command, args []string) error {
	target := models.Target(args[0])

	cfg, err := loadConfig(cmd, runFlags(cmd))
	if err != nil {
		return err
	}
	log := logger.GetLogger()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	var prompt delivery.Prompt
	if cfg.Delivery.SaveAs {
		prompt = delivery.TerminalPrompt(os.Stdin, os.Stdout)
	}

	a, err := newApp(cfg, prompt)
	if err != nil {
		return err
	}
	defer a.close()

	var notifier *ui.Notifier
	if !quiet {
		notifier = ui.NewNotifier(cfg.Notifications)
	}
	reporter := ui.NewReporter(os.Stdout, notifier, interactive && !quiet)
	feed, cancelFeed := a.bus.Subscribe(256)
	defer cancelFeed()
	go reporter.Follow(feed)

	a.start()

	runCfg := cfg.RunConfig()
	if !quiet {
		ui.PrintInfo("Board", string(target))
		ui.PrintInfo("Archive", runCfg.ArchiveName)
	}

	ctx := context.Background()
	if err := a.coord.Start(ctx, target, runCfg); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	reporter.Start()

	log.InfoWithFields("Run started", map[string]interface{}{
		"target": target,
	})

	interrupt, stopInterrupt := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopInterrupt()

	return waitForRun(interrupt, a, reporter, target, runCfg)
}

// waitForRun blocks until the run reaches a terminal event. An interrupt
// stops scrolling and optionally archives what was collected; a second
// interrupt abandons the wait.
func waitForRun(interrupt context.Context, a *app, reporter *ui.Reporter, target models.Target, runCfg models.RunConfig) error {
	ctx := context.Background()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-reporter.Done():
			if reporter.Failed() {
				return errors.New("run failed")
			}
			return nil

		case <-ticker.C:
			// an empty result archives to nothing and never emits a terminal event
			if !a.coord.Running(target) && a.coord.State(target) == models.StateIdle {
				ui.PrintWarning("No media collected")
				return nil
			}

		case <-interrupt.Done():
			fmt.Println()
			ui.PrintWarning("Interrupted, stopping scroll")
			if err := a.coord.Stop(ctx, target); err != nil {
				return fmt.Errorf("failed to stop run: %w", err)
			}

			if !archiveSubmitted(a.coord.State(target)) {
				if !archiveOnStop {
					ui.PrintInfo("Collected media kept for", string(target))
					return nil
				}

				runID, err := a.coord.Archive(ctx, target, runCfg)
				if err != nil {
					return fmt.Errorf("failed to archive: %w", err)
				}
				if runID == "" {
					ui.PrintWarning("No media collected")
					return nil
				}
			}

			again, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case <-reporter.Done():
				if reporter.Failed() {
					return errors.New("archive failed")
				}
				return nil
			case <-again.Done():
				return errors.New("archive abandoned")
			}
		}
	}
}

// archiveSubmitted reports whether a stall already handed the run to the
// archive workers, so an interrupt must not submit it again.
func archiveSubmitted(state models.RunState) bool {
	switch state {
	case models.StateZipping, models.StateDelivered, models.StateFailed:
		return true
	}
	return false
}
