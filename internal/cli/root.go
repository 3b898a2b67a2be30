// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/avfield/kittifetch/internal/tui"
	"github.com/avfield/kittifetch/pkg/kittiraw"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut  bool
	Quiet    bool
	Plain    bool
	Config   string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	// .env files are optional; a missing one is not an error.
	_ = godotenv.Load()

	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "kittifetch",
		Short:         "Idempotent, resumable fetcher for the KITTI raw-data recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Global flags
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events (progress, plan, results)")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (errors and final tally only)")
	root.PersistentFlags().BoolVar(&ro.Plain, "plain", false, "Line output with per-archive progress bars instead of the live table")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level for serve mode: debug, info, warn, error")

	// Add commands
	fetchCmd := newFetchCmd(ctx, ro)
	root.AddCommand(fetchCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newServeCmd(ro))
	root.AddCommand(newConfigCmd())

	// Make fetch the default command when no subcommand is given
	root.RunE = fetchCmd.RunE
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

func newFetchCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	job := &kittiraw.Job{}
	cfg := &kittiraw.Settings{}
	var dryRun bool
	var planFmt string

	cmd := &cobra.Command{
		Use:   "fetch [DATES...]",
		Short: "Fetch raw-data recordings into the local dataset tree",
		Args:  cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, job, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			finalJob, finalCfg, err := finalize(args, job, cfg)
			if err != nil {
				return err
			}

			// Plan-only mode
			if dryRun {
				p, err := kittiraw.PlanRun(finalJob, finalCfg)
				if err != nil {
					return err
				}
				if strings.ToLower(planFmt) == "json" || ro.JSONOut {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(p)
				}
				fmt.Printf("Plan for %s (%d complete, %d pending):\n", p.Root, p.Complete, p.Pending)
				for _, it := range p.Items {
					state := "pending"
					if it.Complete {
						state = "complete"
					}
					fmt.Printf("  %-34s %-12s %s\n", it.Name, it.Kind, state)
				}
				return nil
			}

			// Progress mode selection
			var progress kittiraw.ProgressFunc
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stdout)
			case ro.Quiet:
				progress = quietProgress()
			case ro.Plain:
				progress = cliProgress()
			default:
				// Live TUI
				ui := tui.NewLiveRenderer(finalJob, finalCfg)
				defer ui.Close()
				progress = ui.Handler()
			}

			return kittiraw.Fetch(ctx, finalJob, finalCfg, progress)
		},
	}

	// Job flags
	cmd.Flags().StringVarP(&job.Root, "output", "o", "", "Target root for the dataset tree (default /data/<user>/KITTI/raw, also reads KITTI_DATA_ROOT)")
	cmd.Flags().IntVarP(&job.MaxEntries, "max", "n", kittiraw.DefaultMaxEntries, "Process at most this many catalog entries per run (skips count)")
	cmd.Flags().StringSliceVarP(&job.Dates, "dates", "d", nil, "Comma-separated capture dates to restrict the run (e.g. 2011_09_26)")

	// Settings flags
	cmd.Flags().StringVar(&cfg.Transport, "transport", kittiraw.TransportHTTPS, "Fetch transport: https|s3")
	cmd.Flags().StringVar(&cfg.BaseURL, "base-url", kittiraw.DefaultBaseURL, "HTTPS base URL the archive paths resolve against (mirrors)")
	cmd.Flags().StringVar(&cfg.Endpoint, "s3-endpoint", "", "S3 endpoint override for the s3 transport (mirrors, MinIO)")
	cmd.Flags().IntVar(&cfg.Retries, "retries", 0, "Retry attempts per archive download (0 = fail fast)")
	cmd.Flags().StringVar(&cfg.BackoffInitial, "backoff-initial", "400ms", "Initial retry backoff duration")
	cmd.Flags().StringVar(&cfg.BackoffMax, "backoff-max", "10s", "Maximum retry backoff duration")

	// CLI-only flags
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan only: print the entry list and exit")
	cmd.Flags().StringVar(&planFmt, "plan-format", "table", "Plan output format for --dry-run: table|json")

	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func finalize(args []string, job *kittiraw.Job, cfg *kittiraw.Settings) (kittiraw.Job, kittiraw.Settings, error) {
	j := *job
	c := *cfg

	// Positional args are capture dates; comma lists are allowed.
	for _, a := range args {
		j.Dates = append(j.Dates, splitComma(a)...)
	}

	for _, d := range j.Dates {
		if !kittiraw.IsCatalogDate(d) {
			return j, c, fmt.Errorf("unknown capture date %q (known: %s)", d, strings.Join(kittiraw.CatalogDates(), ", "))
		}
	}

	// Root precedence: flag, then environment, then config file, then the
	// per-user default inside the library.
	if j.Root == "" {
		j.Root = strings.TrimSpace(os.Getenv("KITTI_DATA_ROOT"))
	}

	return j, c, nil
}

func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, job *kittiraw.Job, dst *kittiraw.Settings) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		// Try JSON first, then YAML
		jsonPath := filepath.Join(home, ".config", "kittifetch.json")
		yamlPath := filepath.Join(home, ".config", "kittifetch.yaml")
		ymlPath := filepath.Join(home, ".config", "kittifetch.yml")

		if _, err := os.Stat(jsonPath); err == nil {
			path = jsonPath
		} else if _, err := os.Stat(yamlPath); err == nil {
			path = yamlPath
		} else if _, err := os.Stat(ymlPath); err == nil {
			path = ymlPath
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg map[string]any

	// Parse based on file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}

	setInt("max", func(v int) { job.MaxEntries = v })
	setStr("transport", func(v string) { dst.Transport = v })
	setStr("base-url", func(v string) { dst.BaseURL = v })
	setStr("s3-endpoint", func(v string) { dst.Endpoint = v })
	setInt("retries", func(v int) { dst.Retries = v })
	setStr("backoff-initial", func(v string) { dst.BackoffInitial = v })
	setStr("backoff-max", func(v string) { dst.BackoffMax = v })

	// The target root honors the environment over the config file.
	if !cmd.Flags().Changed("output") && os.Getenv("KITTI_DATA_ROOT") == "" {
		if v, ok := cfg["output"]; ok && v != nil {
			job.Root = fmt.Sprint(v)
		}
	}

	return nil
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cliProgress returns a line-oriented progress handler with a byte bar
// per archive.
func cliProgress() kittiraw.ProgressFunc {
	var (
		green  = color.New(color.FgGreen).SprintFunc()
		yellow = color.New(color.FgYellow).SprintFunc()
		blue   = color.New(color.FgBlue).SprintFunc()
		red    = color.New(color.FgRed).SprintFunc()
	)

	var bar *pb.ProgressBar
	finishBar := func() {
		if bar != nil {
			bar.Finish()
			bar = nil
		}
	}

	return func(ev kittiraw.ProgressEvent) {
		switch ev.Event {
		case "run_start":
			fmt.Println(ev.Message)
		case "entry_skip":
			fmt.Printf("[%d/%d] %s %s\n", ev.Processed, ev.Max, blue("skip"), ev.Entry)
		case "entry_start":
			fmt.Printf("%s %s\n", yellow("fetch"), ev.URL)
		case "entry_progress":
			if bar == nil {
				bar = pb.Full.Start64(ev.Total)
				bar.Set(pb.Bytes, true)
			}
			if ev.Total > 0 {
				bar.SetTotal(ev.Total)
			}
			bar.SetCurrent(ev.Downloaded)
		case "entry_extract":
			finishBar()
			fmt.Printf("%s %s\n", yellow("extract"), ev.Archive)
		case "entry_done":
			finishBar()
			fmt.Printf("[%d/%d] %s %s\n", ev.Processed, ev.Max, green("done"), ev.Entry)
		case "retry":
			finishBar()
			fmt.Printf("%s %s (attempt %d): %s\n", yellow("retry"), ev.Entry, ev.Attempt, ev.Message)
		case "error":
			finishBar()
			fmt.Fprintf(os.Stderr, "%s %s\n", red("error:"), ev.Message)
		case "done":
			finishBar()
			fmt.Println(ev.Message)
		}
	}
}

// quietProgress prints errors and the final tally only.
func quietProgress() kittiraw.ProgressFunc {
	return func(ev kittiraw.ProgressEvent) {
		switch ev.Event {
		case "error":
			fmt.Fprintf(os.Stderr, "error: %s\n", ev.Message)
		case "done":
			fmt.Println(ev.Message)
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) kittiraw.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev kittiraw.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
