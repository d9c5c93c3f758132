// Package monitor implements the incremental monitor (spec §4.6): the same
// rule evaluator as pkg/eval, run repeatedly over a trace that only ever
// grows, suppressing violations whose identity was already reported on an
// earlier call. It is grounded on the teacher's hash-chaining idiom
// (internal/audit/hash.go) repurposed from tamper-evidence to
// deduplication: both compute a canonical-JSON-then-sha256 digest and
// compare it against previously seen digests rather than re-deriving
// meaning from raw fields each time.
package monitor

import (
	"context"
	"fmt"

	"traceguard/pkg/compile"
	"traceguard/pkg/detect"
	"traceguard/pkg/eval"
	"traceguard/pkg/trace"
)

// Monitor wraps a compiled program and a detector registry with the
// seen-fingerprint state needed to evaluate incrementally (spec §5
// "Incremental evaluation").
type Monitor struct {
	prog      *compile.Program
	detectors *detect.Registry
	opts      eval.Options
	seen      map[string]bool
}

// New constructs a Monitor with empty seen-fingerprint state.
func New(prog *compile.Program, detectors *detect.Registry, opts eval.Options) *Monitor {
	return &Monitor{prog: prog, detectors: detectors, opts: opts, seen: make(map[string]bool)}
}

// Check evaluates the full trace formed by past followed by pending —
// typically past is every event already passed to a prior Check call and
// pending is the events newly appended since — and returns only the
// violations not already reported by an earlier Check. It never mutates
// its seen-fingerprint state until the whole trace has been evaluated, so
// a cancelled or errored Check leaves the Monitor exactly as it was before
// the call (spec §5 "cancellation never corrupts monitor state").
//
// Check(past, pending) must be called with past equal, event-for-event, to
// the past++pending of the previous call: the Monitor does not store the
// trace itself, only fingerprints, so it relies on the caller to present a
// consistent, ever-growing prefix (spec §8 invariant 3, monitor
// equivalence: the union of violations emitted by a sequence of prefix
// calls equals what a single batch Evaluate over the final trace would
// produce).
func (m *Monitor) Check(ctx context.Context, past, pending []trace.Event) (eval.AnalysisResult, error) {
	combined := make([]trace.Event, 0, len(past)+len(pending))
	combined = append(combined, past...)
	combined = append(combined, pending...)

	tr, warnings, err := trace.Build(combined, false)
	if err != nil {
		return eval.AnalysisResult{}, fmt.Errorf("building incremental trace: %w", err)
	}

	result, err := eval.Evaluate(ctx, m.prog, tr, m.detectors, m.opts)
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		// Partial results from a cancelled run are never committed: the
		// seen set below is only updated on a clean return.
		return result, err
	}

	type stamped struct {
		v  eval.Violation
		fp string
	}
	var freshErrors, freshHandled []stamped

	for _, v := range result.Errors {
		fp, err := fingerprint(v)
		if err != nil {
			return result, fmt.Errorf("fingerprinting violation: %w", err)
		}
		if !m.seen[fp] {
			freshErrors = append(freshErrors, stamped{v, fp})
		}
	}
	for _, v := range result.HandledErrors {
		fp, err := fingerprint(v)
		if err != nil {
			return result, fmt.Errorf("fingerprinting handled violation: %w", err)
		}
		if !m.seen[fp] {
			freshHandled = append(freshHandled, stamped{v, fp})
		}
	}

	out := eval.AnalysisResult{Warnings: result.Warnings, Cancelled: result.Cancelled}
	for _, s := range freshErrors {
		out.Errors = append(out.Errors, s.v)
		m.seen[s.fp] = true
	}
	for _, s := range freshHandled {
		out.HandledErrors = append(out.HandledErrors, s.v)
		m.seen[s.fp] = true
	}
	return out, nil
}

// Reset discards all seen-fingerprint state, as if Check had never been
// called. Useful when a caller wants to re-report every currently true
// violation, e.g. after a policy hot-reload changes what counts as one.
func (m *Monitor) Reset() {
	m.seen = make(map[string]bool)
}
