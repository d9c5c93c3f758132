package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"traceguard/pkg/policy"
	"traceguard/pkg/trace"
)

// cmdMonitor replays a trace through pkg/policy.Monitor one top-level
// event at a time, printing only the violations each step newly surfaces
// (spec §5/§8 invariant 3) — a stand-in for watching a live session grow,
// the way cmd/auditor's socket loop processes one audit event at a time.
func cmdMonitor(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	var sf sharedFlags
	registerSharedFlags(fs, &sf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: traceguard monitor [flags] <policy.trc> <trace.json>")
	}
	policyPath, traceJSONPath := fs.Arg(0), fs.Arg(1)

	p, tr, err := compileAndDecode(policyPath, traceJSONPath, sf.policyOptions())
	if err != nil {
		return err
	}

	store, err := openReportStore(sf.reportDSN)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	mon := policy.NewMonitor(p)
	ctx := context.Background()

	var past []trace.Event
	sawUnhandled := false
	for i, e := range tr.Events {
		result, err := mon.Check(ctx, past, []trace.Event{e})
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		past = append(past, e)

		if len(result.Errors) == 0 && len(result.HandledErrors) == 0 {
			continue
		}

		fmt.Printf("-- step %d (event #%d) --\n", i, e.EventID())
		printResultText(result)
		if store != nil {
			if err := store.Record(ctx, policyPath, result); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to persist violations: %v\n", err)
			}
		}
		if len(result.Errors) > 0 {
			sawUnhandled = true
		}
	}

	if sawUnhandled {
		os.Exit(1)
	}
	return nil
}
