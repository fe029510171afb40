package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dtm-go/internal/app"
	"dtm-go/internal/config"
	"dtm-go/internal/dtm"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does not exist.
func loadConfig() (*config.Config, string, error) {
	cfg, paths, err := config.LoadDefault()
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, paths.ConfigFile, nil
}

// newApp reads the config and creates a DTMApp. The caller must defer app.Close().
func newApp() (*app.DTMApp, *config.Config, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	a, err := app.NewDTMApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so that an interrupted run
// stops before deleting anything it has not verified.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// reportResult prints a summary of a stage run and turns per-file failures into an error.
func reportResult(verb string, report *dtm.Report, err error) error {
	if errors.Is(err, dtm.ErrOutsideWindow) {
		fmt.Printf("Outside the transfer window, nothing to do: %v\n", err)
		return nil
	}
	if report != nil {
		for _, res := range report.Results {
			if res.Err != nil {
				fmt.Printf("FAILED  %s  (%s): %v\n", res.Source, res.FailedAt, res.Err)
				continue
			}
			fmt.Printf("OK      %s -> %s\n", res.Source, res.Destination)
		}
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", verb, err)
	}

	fmt.Printf("%s %d file(s), %d failed\n", verb, report.Archived(), report.Failed())
	if report.Failed() > 0 {
		return fmt.Errorf("%d file(s) failed", report.Failed())
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "dtm",
	Short: "Scheduled data transfer and archival",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := config.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get default paths: %w", err)
		}

		cfg := config.NewConfig(paths.BaseDir)

		if err := config.Init(paths.ConfigFile, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", paths.ConfigFile)
		fmt.Printf("Base Dir: %s\n", paths.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("# Configuration from %s\n\n", path)
		m := &config.Manager{}
		return m.Write(os.Stdout, cfg)
	},
}

// move command
var moveCmd = &cobra.Command{
	Use:   "move SOURCE DEST",
	Short: "Archive finished data files from SOURCE to DEST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		report, err := a.Move(ctx, args[0], args[1], force)
		return reportResult("Archived", report, err)
	},
}

// cloud command
var cloudCmd = &cobra.Command{
	Use:   "cloud SOURCE DEST",
	Short: "Move archived files from SOURCE to the cloud mover at DEST",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		report, err := a.Cloud(ctx, args[0], args[1], force)
		return reportResult("Uploaded", report, err)
	},
}

// window command
var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Show the transfer window",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		w, open := a.Window()
		state := "closed"
		if open {
			state = "open"
		}
		fmt.Printf("Window %s is %s\n", w, state)
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status DIR",
	Short: "Show what a move run would do",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.Status(args[0])
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No files found.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%-12s %s  %10d  %s\n",
				e.Action,
				e.ModTime.Format("2006-01-02 15:04:05"),
				e.Size,
				e.Name,
			)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		runID, _ := cmd.Flags().GetInt64("run")

		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if runID != 0 {
			return printTransfers(a, runID)
		}

		runs, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt != nil {
				duration = r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-6s  %s  %-8s  %-10s  %s\n",
				r.ID,
				r.Operation,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				r.Parameters,
			)
		}
		return nil
	},
}

func printTransfers(a *app.DTMApp, runID int64) error {
	records, err := a.GetTransfers(runID)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Printf("No transfers recorded for run #%d.\n", runID)
		return nil
	}

	for _, rec := range records {
		digest := rec.DigestAfter
		if len(digest) > 12 {
			digest = digest[:12]
		}
		line := fmt.Sprintf("%s  %-5s  %-7s  %-10s  %-12s  %s",
			rec.RecordedAt.Format("2006-01-02 15:04:05"),
			rec.Stage,
			rec.Outcome,
			rec.State,
			digest,
			rec.Source,
		)
		if rec.Error != "" {
			line += "  error: " + strings.TrimSpace(rec.Error)
		}
		fmt.Println(line)
	}
	return nil
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore ARTIFACT OUTPUT",
	Short: "Decompress an archived file and verify it against the journal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := a.Restore(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored %s\n", args[1])
		return nil
	},
}

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon SOURCE DEST",
	Short: "Archive SOURCE to DEST on a schedule and on changes while the window is open",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cfg, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		interval, debounce, err := cfg.Daemon.Intervals()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("interval") {
			interval, _ = cmd.Flags().GetDuration("interval")
		}
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", interval)
		}

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("Watching %s every %s (window %s), press Ctrl-C to stop\n", args[0], interval, cfg.Window.TimeWindow())
		return a.Daemon(ctx, args[0], args[1], interval, debounce)
	},
}

// journal command
var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Manage the transfer journal",
}

var journalBackupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a snapshot of the journal to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, _, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.BackupJournal(args[0]); err != nil {
			return err
		}

		fmt.Printf("Journal written to %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// journal subcommands
	journalCmd.AddCommand(journalBackupCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(moveCmd)
	moveCmd.Flags().BoolP("force", "f", false, "Run even when outside the transfer window")
	rootCmd.AddCommand(cloudCmd)
	cloudCmd.Flags().BoolP("force", "f", false, "Run even when outside the transfer window")
	rootCmd.AddCommand(windowCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of runs to show")
	historyCmd.Flags().Int64("run", 0, "Show the transfers of one run")
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.Flags().Duration("interval", 0, "Time between scheduled runs (default from config)")
	rootCmd.AddCommand(journalCmd)
}
