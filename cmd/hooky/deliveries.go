package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"hooky/internal/history"
	"hooky/internal/settings"
	"hooky/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	deliveriesDB       string
	deliveriesLimit    int
	deliveriesEndpoint string
	deliveriesSummary  bool
	deliveriesID       string
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Show recent webhook deliveries",
	Long: `List recent deliveries from the delivery log, newest first.

The log records the outcome of every webhook request (status, message,
delivery id); payloads are never stored.`,
	Args: cobra.NoArgs,
	RunE: runDeliveries,
}

func init() {
	deliveriesCmd.Flags().StringVar(&deliveriesDB, "db", getEnvOrDefault(settings.EnvHistoryDB, settings.DefaultHistoryDB), "Path to the delivery log database")
	deliveriesCmd.Flags().IntVarP(&deliveriesLimit, "limit", "n", 20, "Number of deliveries to show")
	deliveriesCmd.Flags().StringVar(&deliveriesEndpoint, "endpoint", "", "Only show one endpoint (webhook or marketplace)")
	deliveriesCmd.Flags().BoolVar(&deliveriesSummary, "summary", false, "Show counts per endpoint and status instead")
	deliveriesCmd.Flags().StringVar(&deliveriesID, "id", "", "Show the latest record for one X-GitHub-Delivery id")
}

func runDeliveries(cmd *cobra.Command, args []string) error {
	switch deliveriesEndpoint {
	case "", history.EndpointWebhook, history.EndpointMarketplace:
	default:
		return fmt.Errorf("unknown endpoint %q (expected %s or %s)", deliveriesEndpoint, history.EndpointWebhook, history.EndpointMarketplace)
	}
	if deliveriesLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	// sqlite reports a missing read-only file as a generic open error
	if !fileutil.FileExists(deliveriesDB) {
		return fmt.Errorf("delivery log not found: %s", deliveriesDB)
	}

	hist, err := history.OpenReadOnly(deliveriesDB)
	if err != nil {
		return fmt.Errorf("failed to open delivery log: %w", err)
	}
	defer hist.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	defer w.Flush()

	if deliveriesSummary {
		counts, err := hist.CountByStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ENDPOINT\tSTATUS\tCOUNT")
		for _, c := range counts {
			fmt.Fprintf(w, "%s\t%d\t%d\n", c.Endpoint, c.Status, c.Count)
		}
		return nil
	}

	var records []history.DeliveryRecord
	if deliveriesID != "" {
		rec, err := hist.GetDelivery(ctx, deliveriesID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no delivery with id %s", deliveriesID)
		}
		records = append(records, *rec)
	} else {
		records, err = hist.GetRecentDeliveries(ctx, deliveriesEndpoint, deliveriesLimit)
		if err != nil {
			return err
		}
	}

	fmt.Fprintln(w, "RECEIVED\tENDPOINT\tEVENT\tDELIVERY\tSTATUS\tOUTCOME\tDURATION\tMESSAGE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			rec.ReceivedAt.Local().Format(time.DateTime),
			rec.Endpoint,
			deref(rec.Event),
			deref(rec.DeliveryID),
			rec.Status,
			rec.Outcome,
			time.Duration(rec.DurationSeconds*float64(time.Second)).Round(time.Millisecond),
			rec.Message,
		)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
