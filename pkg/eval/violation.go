package eval

import "traceguard/pkg/trace"

// Violation is a PolicyViolation (or AccessControlViolation, its §7
// subclass — distinguished by Kind) produced by one satisfying binding of
// a rule body.
type Violation struct {
	Kind      string
	Message   string
	Fields    map[string]trace.Value
	Ranges    []trace.Range
	RuleSpan  string // source location of the originating rule, for diagnostics
	RuleIndex int

	// Bindings is the generator variable -> event identity map that
	// produced this violation. pkg/monitor uses it (together with
	// RuleIndex) to fingerprint a violation across incremental Check
	// calls without re-deriving it from Ranges, which only cover the
	// events a filter actually touched.
	Bindings map[string]trace.ID
}

// AnalysisResult is the outcome of a batch or incremental evaluation
// (spec §6).
type AnalysisResult struct {
	Errors        []Violation
	HandledErrors []Violation
	Warnings      []trace.Warning
	Cancelled     bool
}
