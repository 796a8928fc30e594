package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kindredcircl/healthd/internal/config"
	"github.com/kindredcircl/healthd/internal/probe"
	"github.com/kindredcircl/healthd/internal/registry"
)

func executeCheck(cmd *cobra.Command, cfg *config.Config) error {
	reg := registry.New(registry.DefaultsFromConfig(cfg))
	var targets []registry.Target
	for _, t := range registry.FromConfig(cfg) {
		stored, err := reg.Register(t)
		if err != nil {
			return fmt.Errorf("registering target: %w", err)
		}
		targets = append(targets, stored)
	}
	return runChecks(cmd.OutOrStdout(), targets)
}

func runChecks(out io.Writer, targets []registry.Target) error {
	type result struct {
		target  registry.Target
		outcome probe.Outcome
	}

	results := make([]result, len(targets))
	var wg sync.WaitGroup

	for i, t := range targets {
		wg.Add(1)
		go func(i int, t registry.Target) {
			defer wg.Done()
			p, err := probe.New(t)
			if err != nil {
				results[i] = result{
					target: t,
					outcome: probe.Outcome{
						TargetID:  t.ID,
						ErrorKind: probe.ErrorUnknown,
						Detail:    fmt.Sprintf("creating prober: %v", err),
						ProbedAt:  time.Now(),
					},
				}
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
			defer cancel()
			results[i] = result{target: t, outcome: p.Probe(ctx)}
		}(i, t)
	}
	wg.Wait()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tPROTOCOL\tRESULT\tLATENCY\tERROR")
	allUp := true
	for _, r := range results {
		latency := "-"
		if r.outcome.Latency > 0 {
			latency = r.outcome.Latency.Round(time.Millisecond).String()
		}
		verdict := "pass"
		if !r.outcome.Success {
			verdict = "fail"
			allUp = false
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.target.ID,
			r.target.Protocol,
			verdict,
			latency,
			r.outcome.Detail,
		)
	}
	w.Flush()

	if !allUp {
		return fmt.Errorf("one or more targets are failing")
	}
	return nil
}
