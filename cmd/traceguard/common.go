package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"traceguard/pkg/detect"
	"traceguard/pkg/policy"
	"traceguard/pkg/report"
	"traceguard/pkg/trace"
)

// sharedFlags are the flags every subcommand accepts, mirroring
// govexplain's envOrDefault-seeded flag.String pattern.
type sharedFlags struct {
	paramsFile  string
	reportDSN   string
	localPolicy bool
	anthropic   string
	model       string
	timeout     time.Duration
	strict      bool
	json        bool
}

func registerSharedFlags(fs *flag.FlagSet, f *sharedFlags) {
	fs.StringVar(&f.paramsFile, "params", "", "JSON file of caller-supplied params exposed to rule bodies")
	fs.StringVar(&f.reportDSN, "report-dsn", envOrDefault("TRACEGUARD_REPORT_DSN", ""), "Violation store DSN (sqlite path or postgres:// URL); empty disables persistence")
	fs.BoolVar(&f.localPolicy, "local-policy", os.Getenv("LOCAL_POLICY") == "1", "Force local-heuristic detectors, bypassing any LLM-backed detector")
	fs.StringVar(&f.anthropic, "anthropic-key", envOrDefault("ANTHROPIC_API_KEY", ""), "Anthropic API key for LLM-backed detectors")
	fs.StringVar(&f.model, "model", "", "Override the detector model (default claude-3-5-haiku-20241022)")
	fs.DurationVar(&f.timeout, "detector-timeout", 0, "Per-call timeout for LLM-backed detectors")
	fs.BoolVar(&f.strict, "strict", false, "Treat malformed trace input as a hard error instead of a warning")
	fs.BoolVar(&f.json, "json", false, "Output machine-readable JSON instead of plain text")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (f *sharedFlags) policyOptions() policy.Options {
	return policy.Options{
		RaiseUnhandled: true,
		StrictMode:     f.strict,
		Detect: detect.Options{
			AnthropicAPIKey: f.anthropic,
			Model:           f.model,
			LocalPolicy:     f.localPolicy,
			Timeout:         f.timeout,
		},
	}
}

func (f *sharedFlags) loadParams() (map[string]trace.Value, error) {
	if f.paramsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.paramsFile)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}
	var params map[string]trace.Value
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse params file: %w", err)
	}
	return params, nil
}

// compileAndDecode reads and compiles policyPath, decodes traceJSONPath,
// and prints any compile Diagnostics to stderr before returning an error.
func compileAndDecode(policyPath, traceJSONPath string, opts policy.Options) (*policy.Policy, *trace.Trace, error) {
	src, err := os.ReadFile(policyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read policy file: %w", err)
	}
	p, diags := policy.CompileFile(policyPath, string(src), opts)
	if len(diags) != 0 {
		for _, d := range diags {
			fmt.Fprintln(os.Stderr, d.String())
		}
		return nil, nil, fmt.Errorf("%d compile diagnostic(s)", len(diags))
	}

	traceData, err := os.ReadFile(traceJSONPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read trace file: %w", err)
	}
	tr, warnings, err := p.DecodeTrace(traceData)
	if err != nil {
		return nil, nil, fmt.Errorf("decode trace: %w", err)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Kind, w.Message)
	}
	return p, tr, nil
}

// openReportStore opens a *report.Store when dsn is set, or returns nil,
// nil when persistence is not configured — callers guard every use with
// a nil check rather than threading a "persistence enabled" bool around.
func openReportStore(dsn string) (*report.Store, error) {
	if dsn == "" {
		return nil, nil
	}
	s, err := report.Open(report.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("open report store: %w", err)
	}
	return s, nil
}
