package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"traceguard/pkg/eval"
)

// cmdCheck runs a policy once against a trace (spec §6 batch Analyze) and
// reports the result the way the teacher's runVerifyMode reports chain
// verification: a short summary, then os.Exit(1) if anything unhandled
// was found, os.Exit(0) otherwise.
func cmdCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	var sf sharedFlags
	registerSharedFlags(fs, &sf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: traceguard check [flags] <policy.trc> <trace.json>")
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
	} else {
		printResultText(result)
	}

	if len(result.Errors) > 0 {
		os.Exit(1)
	}
	return nil
}

func printResultText(result eval.AnalysisResult) {
	if len(result.Errors) == 0 && len(result.HandledErrors) == 0 {
		fmt.Println("No violations.")
	}
	for _, v := range result.Errors {
		fmt.Printf("[%s] %s (%s)\n", v.Kind, v.Message, v.RuleSpan)
	}
	for _, v := range result.HandledErrors {
		fmt.Printf("[%s handled] %s (%s)\n", v.Kind, v.Message, v.RuleSpan)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Kind, w.Message)
	}
}

func printResultJSON(result eval.AnalysisResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(result)
}
