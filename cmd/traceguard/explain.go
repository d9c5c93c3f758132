package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"traceguard/pkg/eval"
)

// cmdExplain is cmdCheck plus the localization detail (Ranges, Fields,
// Bindings) a reader needs to see exactly which events and arguments
// tripped a rule — the same "explanation" role govexplain's --event mode
// plays for a single policy decision, here spelled out for every
// violation instead of fetched from a server.
func cmdExplain(args []string) error {
	fs := flag.NewFlagSet("explain", flag.ExitOnError)
	var sf sharedFlags
	registerSharedFlags(fs, &sf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: traceguard explain [flags] <policy.trc> <trace.json>")
	}
	policyPath, traceJSONPath := fs.Arg(0), fs.Arg(1)

	p, tr, err := compileAndDecode(policyPath, traceJSONPath, sf.policyOptions())
	if err != nil {
		return err
	}
	params, err := sf.loadParams()
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

	result, err := p.Analyze(context.Background(), tr, params)
	if err != nil {
		return err
	}

	if store != nil {
		if err := store.Record(context.Background(), policyPath, result); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to persist violations: %v\n", err)
		}
	}

	if sf.json {
		printResultJSON(result)
		if len(result.Errors) > 0 {
			os.Exit(1)
		}
		return nil
	}

	if len(result.Errors) == 0 && len(result.HandledErrors) == 0 {
		fmt.Println("No violations.")
		return nil
	}

	sep := "------------------------------------------------------------"
	first := true
	for _, v := range result.Errors {
		if !first {
			fmt.Println(sep)
		}
		first = false
		explainOne(v, false)
	}
	for _, v := range result.HandledErrors {
		if !first {
			fmt.Println(sep)
		}
		first = false
		explainOne(v, true)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
	return nil
}

func explainOne(v eval.Violation, handled bool) {
	status := ""
	if handled {
		status = " (handled)"
	}
	fmt.Printf("%s%s: %s\n", v.Kind, status, v.Message)
	fmt.Printf("  rule:     %s\n", v.RuleSpan)
	if len(v.Bindings) > 0 {
		fmt.Println("  bindings:")
		for name, id := range v.Bindings {
			fmt.Printf("    %s -> event #%d\n", name, id)
		}
	}
	for _, r := range v.Ranges {
		if r.JSONPath != "" {
			fmt.Printf("  range:    event #%d, %s\n", r.ObjectID, r.JSONPath)
		} else {
			fmt.Printf("  range:    event #%d\n", r.ObjectID)
		}
	}
	if len(v.Fields) > 0 {
		fmt.Println("  fields:")
		for name, val := range v.Fields {
			fmt.Printf("    %s = %s\n", name, val.String())
		}
	}
}
