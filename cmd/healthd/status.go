package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kindredcircl/healthd/internal/storage"
)

type statusStore interface {
	AllLatest(ctx context.Context) ([]storage.Probe, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	probes, err := db.AllLatest(context.Background())
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	if len(probes) == 0 {
		fmt.Fprintln(out, "No probe history. Run 'healthd serve' first.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tRESULT\tLATENCY\tLAST CHECKED\tERROR")
	for _, p := range probes {
		latency := "-"
		if p.LatencyMs > 0 {
			latency = time.Duration(p.LatencyMs * int64(time.Millisecond)).Round(time.Millisecond).String()
		}
		verdict := "pass"
		if !p.Success {
			verdict = "fail"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Target,
			verdict,
			latency,
			p.ProbedAt.Local().Format("2006-01-02 15:04:05"),
			p.Detail,
		)
	}
	w.Flush()
	return nil
}
