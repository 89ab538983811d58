// Package cli implements the curator command-line interface.
package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/curator-ai/curator/internal/agent"
	"github.com/curator-ai/curator/internal/config"
	"github.com/curator-ai/curator/internal/db"
	"github.com/curator-ai/curator/internal/errors"
)

// newItemsCmd creates the items command
func newItemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items [item-id]",
		Short: "List pipeline items or show one in detail",
		Long: `List the items the pipeline tracks, or show a single item with
its stage flags, categories, and retry state.

The STAGES column tracks the five per-item stages in order: content
cache, media, LLM classification, KB document, DB sync. A filled dot
is done, a cross is a recorded error, an open dot is pending.

Examples:
  curator items
  curator items --errors
  curator items --category ai_research
  curator items 1871234567890`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.RequireInit(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbs, err := agent.OpenStore(cfg)
			if err != nil {
				return err
			}
			defer dbs.Close()

			if len(args) == 1 {
				return showItem(dbs, args[0])
			}

			filter := db.ItemFilter{}
			filter.Source, _ = cmd.Flags().GetString("source")
			filter.MainCategory, _ = cmd.Flags().GetString("category")
			if onlyErrors, _ := cmd.Flags().GetBool("errors"); onlyErrors {
				t := true
				filter.HasErrors = &t
			}
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			items, err := dbs.ListItems(filter)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(items)
			}
			if len(items) == 0 {
				fmt.Println("No items found. Run the pipeline with: curator run")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tCATEGORY\tSTAGES\tTITLE")
			fmt.Fprintln(w, "──\t──────\t────────\t──────\t─────")
			for _, it := range items {
				category := it.MainCategory
				if category == "" {
					category = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					truncate(it.ItemID, 24), it.Source, category,
					stageDots(it), truncate(it.DisplayTitle, 40))
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().String("source", "", "Filter by bookmark source")
	cmd.Flags().String("category", "", "Filter by main category")
	cmd.Flags().Bool("errors", false, "Only items with a recorded error")
	cmd.Flags().Int("limit", 50, "Maximum items to list (0 for all)")

	return cmd
}

// stageDots renders the five per-item stages as a compact progress
// string: cache, media, LLM, KB document, DB sync.
func stageDots(it *db.Item) string {
	stages := []struct {
		done   bool
		errMsg string
	}{
		{it.CacheComplete, it.CacheError},
		{it.MediaProcessed, it.MediaError},
		{it.CategoriesProcessed, it.LLMError},
		{it.KBItemCreated, it.KBItemError},
		{it.DBSynced, it.DBSyncError},
	}
	out := make([]rune, len(stages))
	for i, s := range stages {
		switch {
		case s.errMsg != "":
			out[i] = '✗'
		case s.done:
			out[i] = '●'
		default:
			out[i] = '○'
		}
	}
	return string(out)
}

// showItem prints one item in detail.
func showItem(dbs *db.Store, id string) error {
	it, err := dbs.GetItem(id)
	if err != nil {
		return err
	}
	if it == nil {
		return errors.ErrItemNotFound(id)
	}
	if jsonOut {
		return printJSON(it)
	}

	fmt.Printf("Item %s\n", it.ItemID)
	fmt.Printf("  Source:    %s\n", it.Source)
	if it.DisplayTitle != "" {
		fmt.Printf("  Title:     %s\n", it.DisplayTitle)
	}
	if it.MainCategory != "" {
		fmt.Printf("  Category:  %s / %s\n", it.MainCategory, it.SubCategory)
	}
	if it.KBItemPath != "" {
		fmt.Printf("  KB path:   %s\n", it.KBItemPath)
	}
	fmt.Printf("  Stages:    %s\n", stageDots(it))
	fmt.Printf("  Created:   %s\n", it.CreatedAt.Local().Format(time.RFC1123))
	fmt.Printf("  Updated:   %s\n", formatTimeAgo(it.UpdatedAt))

	for _, e := range []struct{ stage, msg string }{
		{"cache", it.CacheError},
		{"media", it.MediaError},
		{"llm", it.LLMError},
		{"kb_item", it.KBItemError},
		{"db_sync", it.DBSyncError},
	} {
		if e.msg != "" {
			fmt.Printf("  Error (%s): %s\n", e.stage, truncate(e.msg, 100))
		}
	}

	if it.RetryCount > 0 || it.FailureType != "" {
		fmt.Printf("  Retries:   %d", it.RetryCount)
		if it.FailureType != "" {
			fmt.Printf(" (%s)", it.FailureType)
		}
		if it.NextRetryAfter != nil {
			fmt.Printf(", next after %s", it.NextRetryAfter.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}
	return nil
}
