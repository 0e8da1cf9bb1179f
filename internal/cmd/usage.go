package cmd

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/personachat/chat-proxy/internal/config"
	"github.com/personachat/chat-proxy/internal/storage"
	"github.com/spf13/cobra"
)

var usageDays int

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage recorded by the chat endpoint",
	RunE:  runUsage,
}

func init() {
	rootCmd.AddCommand(usageCmd)
	usageCmd.Flags().IntVar(&usageDays, "days", 7, "number of days to include, today included")
}

func runUsage(cmd *cobra.Command, args []string) error {
	if usageDays < 1 {
		return fmt.Errorf("--days must be at least 1")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	records, err := storage.NewUsageStore(cfg.Storage.UsageDir).GetUsageHistory(usageDays)
	if err != nil {
		return err
	}

	renderUsage(cmd.OutOrStdout(), records)
	return nil
}

func renderUsage(w io.Writer, records []storage.UsageRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No usage recorded.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Date", "Client", "Requests", "Prompt", "Completion", "Total"})

	var requests, prompt, completion, total int64
	for _, r := range records {
		t.AppendRow(table.Row{r.Date, r.Client, r.RequestCount, r.PromptTokens, r.CompletionTokens, r.TotalTokens})
		requests += r.RequestCount
		prompt += r.PromptTokens
		completion += r.CompletionTokens
		total += r.TotalTokens
	}
	t.AppendFooter(table.Row{"", "Total", requests, prompt, completion, total})
	t.Render()
}
