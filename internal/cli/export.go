package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
	"github.com/spf13/cobra"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Export raw event data",
	Long: `Export the raw event ledger in CSV or JSON format.

Examples:
  popsplit export exit-popup --format csv > exit-popup.csv
  popsplit export exit-popup --format json > exit-popup.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withEngine(func(s *store.SQLiteStore, eng *engine.Engine) error {
		ctx := context.Background()

		test, err := lookupTest(ctx, s, args[0])
		if err != nil {
			return err
		}

		events, err := s.GetEvents(ctx, test.ID)
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if exportFormat == "json" {
			return exportJSON(test, events)
		}
		return exportCSV(events)
	})
}

func exportCSV(events []*store.Event) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{"id", "test_id", "variant_id", "event_type", "page_url", "created_at"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range events {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.TestID,
			e.VariantID,
			string(e.Type),
			e.PageURL,
			e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	return nil
}

func exportJSON(test *store.Test, events []*store.Event) error {
	type eventJSON struct {
		ID        int64  `json:"id"`
		TestID    string `json:"test_id"`
		VariantID string `json:"variant_id"`
		EventType string `json:"event_type"`
		PageURL   string `json:"page_url,omitempty"`
		CreatedAt string `json:"created_at"`
	}

	out := struct {
		Test   string      `json:"test"`
		Events []eventJSON `json:"events"`
	}{Test: test.Name, Events: make([]eventJSON, 0, len(events))}

	for _, e := range events {
		out.Events = append(out.Events, eventJSON{
			ID:        e.ID,
			TestID:    e.TestID,
			VariantID: e.VariantID,
			EventType: string(e.Type),
			PageURL:   e.PageURL,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
