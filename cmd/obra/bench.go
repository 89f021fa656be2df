package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/obracontrol/internal/obra/loadtest"
	"github.com/mschirtzinger/obracontrol/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "tools",
	Short:   "Measure save latency under concurrent edits",
	Long: `Run a save-latency benchmark against a throwaway workspace.

The benchmark creates a SQLite local cache (and, with --remote, a SQLite
remote document store with a signed-in session), fills it with projects,
then has several crew members add logs, materials and tasks at the same
time. Afterwards the local cache and the remote document are checked
against the in-memory dataset.

Examples:
  # Default: 10 crews, 20 operations each, local only
  obra bench

  # Include the remote mirror
  obra bench --remote --crews 25 --ops 40

  # Machine-readable results
  obra bench -o json`,
	Run: runBench,
}

func runBench(cmd *cobra.Command, args []string) {
	projects, _ := cmd.Flags().GetInt("projects")
	entries, _ := cmd.Flags().GetInt("entries")
	crews, _ := cmd.Flags().GetInt("crews")
	ops, _ := cmd.Flags().GetInt("ops")
	withRemote, _ := cmd.Flags().GetBool("remote")
	dir, _ := cmd.Flags().GetString("dir")

	// Validate flags
	if projects <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --projects must be positive\n")
		os.Exit(1)
	}
	if crews <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --crews must be positive\n")
		os.Exit(1)
	}
	if ops <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --ops must be positive\n")
		os.Exit(1)
	}

	if dir == "" {
		tmp, err := os.MkdirTemp("", "obra-bench-*")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var logger *log.Logger
	if verbose {
		logger = log.New(os.Stderr, "[bench] ", log.LstdFlags)
	}

	if outputFormat == "text" {
		fmt.Printf("%s Creating bench: %d projects, %d entries each (remote: %v)\n",
			ui.RenderAccent("⏱"), projects, entries, withRemote)
	}
	start := time.Now()
	bench, err := loadtest.CreateBench(ctx, dir, loadtest.Options{
		Projects:          projects,
		EntriesPerProject: entries,
		Remote:            withRemote,
		Logger:            logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating bench: %v\n", err)
		os.Exit(1)
	}
	defer bench.Close()
	setup := time.Since(start)

	stats, err := bench.RunConcurrentSaves(ctx, crews, ops)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running saves: %v\n", err)
		bench.Close()
		os.Exit(1)
	}
	verifyErr := bench.VerifyConsistency(ctx)

	result := map[string]any{
		"projects":   projects,
		"crews":      crews,
		"opsPerCrew": ops,
		"remote":     withRemote,
		"setupMs":    setup.Milliseconds(),
		"saves":      stats.TotalSaves,
		"errors":     stats.Errors,
		"minMs":      ms(stats.Min),
		"meanMs":     ms(stats.Mean),
		"p50Ms":      ms(stats.P50),
		"p95Ms":      ms(stats.P95),
		"p99Ms":      ms(stats.P99),
		"maxMs":      ms(stats.Max),
		"consistent": verifyErr == nil,
	}
	if !printStructured(result) {
		fmt.Printf("Setup: %s\n\n", setup.Round(time.Millisecond))
		stats.PrintStats(os.Stdout)
		if verifyErr == nil {
			fmt.Printf("\n%s Consistent: store, local cache%s\n", ui.RenderPass("✓"), remoteSuffix(withRemote))
		}
	}
	if verifyErr != nil {
		fmt.Fprintf(os.Stderr, "\n%s Consistency check failed: %v\n", ui.RenderFail("✗"), verifyErr)
		bench.Close()
		os.Exit(1)
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func remoteSuffix(withRemote bool) string {
	if withRemote {
		return " and remote document"
	}
	return ""
}

func init() {
	benchCmd.Flags().Int("projects", 3, "Number of projects to create")
	benchCmd.Flags().Int("entries", 50, "Entries per section in each project")
	benchCmd.Flags().Int("crews", 10, "Number of concurrent crew members")
	benchCmd.Flags().Int("ops", 20, "Operations per crew member")
	benchCmd.Flags().Bool("remote", false, "Mirror saves to a SQLite remote store")
	benchCmd.Flags().String("dir", "", "Directory for the bench databases (default: a temp dir)")
	rootCmd.AddCommand(benchCmd)
}
