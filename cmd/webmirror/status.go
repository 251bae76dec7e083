package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/webmirror/webmirror/internal/config"
	"github.com/webmirror/webmirror/internal/manifest"
	"github.com/webmirror/webmirror/internal/urlx"
)

// NewStatusCmd creates the status command.
// This command inspects the run history stored in the manifest database.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [url]",
		Short: "Show mirror run history",
		Long: `Status displays mirror runs recorded in the manifest database.

Without arguments it lists the most recent runs across all sites.
With a URL it lists the runs for that site. With --run-id it shows
the per-URL outcome of one run, which is useful for finding out why
specific resources failed or were skipped.

Examples:
  # List recent runs across all sites
  webmirror status

  # List runs for one site
  webmirror status https://example.com

  # Show the per-URL outcome of run 5
  webmirror status --run-id 5

  # Only show resources that failed in run 5
  webmirror status --run-id 5 --failed

  # Output run history as JSON
  webmirror status --json https://example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: runStatusCmd,
	}

	cmd.Flags().Int64P("run-id", "i", 0,
		"Show per-URL outcomes for a specific run (use the list to see IDs)")
	cmd.Flags().BoolP("failed", "f", false,
		"With --run-id, only show resources that failed")
	cmd.Flags().IntP("limit", "n", 20,
		"Maximum number of runs to list (0 for all)")
	cmd.Flags().BoolP("json", "j", false,
		"Output in JSON format")

	return cmd
}

// runStatusCmd executes the status command.
func runStatusCmd(cmd *cobra.Command, args []string) error {
	// Canonicalize the URL filter before opening the database so bad
	// arguments fail fast.
	var rootURL string
	if len(args) > 0 {
		raw := args[0]
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		var err error
		rootURL, err = urlx.Canonicalize(raw, nil)
		if err != nil {
			return fmt.Errorf("invalid URL %q: %w", args[0], err)
		}
	}

	runID, err := cmd.Flags().GetInt64("run-id")
	if err != nil {
		return err
	}
	failedOnly, err := cmd.Flags().GetBool("failed")
	if err != nil {
		return err
	}
	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	db, err := manifest.Open(config.XDGDataDir(), manifest.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open manifest database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()

	if runID > 0 {
		return showRunResources(ctx, db, runID, failedOnly, jsonOutput)
	}

	return listRunHistory(ctx, db, rootURL, limit, jsonOutput)
}

// listRunHistory lists stored runs, optionally filtered by root URL.
func listRunHistory(ctx context.Context, db *manifest.DB, rootURL string, limit int, jsonOutput bool) error {
	runs, err := db.ListRuns(ctx, rootURL, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(runs)
	}

	if len(runs) == 0 {
		if rootURL != "" {
			fmt.Printf("No runs found for %s\n", rootURL)
		} else {
			fmt.Println("No runs found in the manifest database.")
		}
		fmt.Println("\nUse 'webmirror mirror <url>' to mirror a site.")
		return nil
	}

	if rootURL != "" {
		fmt.Printf("Runs for %s (%d):\n\n", rootURL, len(runs))
	} else {
		fmt.Printf("Recent runs (%d):\n\n", len(runs))
	}

	fmt.Printf("  %-6s  %-20s  %-10s  %-7s  %-7s  %-8s  %s\n",
		"ID", "Date", "Status", "Saved", "Failed", "Skipped", "URL")
	fmt.Println("  " + strings.Repeat("-", 90))

	for _, run := range runs {
		fmt.Printf("  %-6d  %-20s  %-10s  %-7d  %-7d  %-8d  %s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.State,
			run.Done,
			run.Failed,
			run.Skipped,
			run.RootURL,
		)
	}

	fmt.Println("\nUse 'webmirror status --run-id <id>' to see the per-URL outcome of a run.")

	return nil
}

// showRunResources shows the per-URL outcome of one run.
func showRunResources(ctx context.Context, db *manifest.DB, runID int64, failedOnly, jsonOutput bool) error {
	run, err := db.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run %d: %w", runID, err)
	}
	if run == nil {
		return fmt.Errorf("run %d not found (use 'webmirror status' to list runs)", runID)
	}

	records, err := db.GetRunResources(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get resources for run %d: %w", runID, err)
	}

	if failedOnly {
		filtered := records[:0]
		for _, rec := range records {
			if rec.State == "failed" {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(struct {
			Run       *manifest.Run             `json:"run"`
			Resources []manifest.ResourceRecord `json:"resources"`
		}{run, records})
	}

	fmt.Printf("Run %d: %s\n", run.ID, run.RootURL)
	fmt.Printf("  Output:   %s\n", run.OutputDir)
	fmt.Printf("  Status:   %s\n", run.State)
	fmt.Printf("  Started:  %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Saved:    %d  Failed: %d  Skipped: %d\n\n", run.Done, run.Failed, run.Skipped)

	if len(records) == 0 {
		if failedOnly {
			fmt.Println("No failed resources in this run.")
		} else {
			fmt.Println("No resources recorded for this run.")
		}
		return nil
	}

	for _, rec := range records {
		switch rec.State {
		case "failed":
			fmt.Printf("  [failed] %s: %s\n", rec.URL, rec.Error)
		default:
			fmt.Printf("  [%s] %s -> %s\n", rec.State, rec.URL, rec.LocalPath)
		}
	}

	return nil
}
