// Package policy is the public library surface (spec §6): compile policy
// source into a Policy, run it once over a trace with Analyze, or wrap it
// in a Monitor for incremental evaluation as a session grows. It is the
// one package application code outside this module is meant to import —
// pkg/lang, pkg/compile, pkg/eval, and pkg/monitor are its implementation,
// not its interface.
package policy

import (
	"context"
	"fmt"

	"traceguard/pkg/compile"
	"traceguard/pkg/detect"
	"traceguard/pkg/eval"
	"traceguard/pkg/lang"
	"traceguard/pkg/monitor"
	"traceguard/pkg/trace"
)

// Diagnostic is one compile-time problem reported by Compile: either a
// malformed-source ParseError or a TypeError from the type checker, both
// flattened to a common, file/line/col-addressable shape so a caller can
// render them without type-switching.
type Diagnostic struct {
	File    string
	Line    int
	Col     int
	Message string
}

func (d Diagnostic) String() string {
	if d.File != "" {
		return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Col, d.Message)
	}
	return fmt.Sprintf("%d:%d: %s", d.Line, d.Col, d.Message)
}

// ParseError reports malformed policy source (spec §7): a Diagnostic at
// the point the parser could not continue.
type ParseError struct{ Diagnostic }

func (e *ParseError) Error() string { return e.Diagnostic.String() }

// TypeError reports a compile-time type or range-restriction failure
// (spec §7): an undefined symbol, a wrongly-typed pattern target, or a
// negated atom that introduces an unbound variable.
type TypeError struct{ Diagnostic }

func (e *TypeError) Error() string { return e.Diagnostic.String() }

// TraceInputError reports a malformed trace (duplicate ToolCall id,
// unmatched ToolOutput). DecodeTrace returns it when the Policy was
// compiled with Options.StrictMode; otherwise the condition is a Warning.
// Monitor.Check always reports these conditions as Warnings.
type TraceInputError struct{ Reason string }

func (e *TraceInputError) Error() string { return e.Reason }

// Cancelled is returned, wrapping the partial result computed so far, when
// ctx is cancelled mid-Analyze or mid-Check (spec §5).
type Cancelled struct{ Partial eval.AnalysisResult }

func (*Cancelled) Error() string { return "analysis cancelled" }

// Options configures how a Policy runs: which handled-error hooks are
// registered, whether unhandled handlers still raise, and how its
// detectors are constructed.
type Options struct {
	Handlers       map[string]eval.Handler
	RaiseUnhandled bool
	Detect         detect.Options
	// StrictMode makes a malformed trace (duplicate ToolCall id, unmatched
	// ToolOutput) a hard TraceInputError instead of a Warning on the
	// returned AnalysisResult.
	StrictMode bool
}

// Policy is a compiled, ready-to-evaluate rule set.
type Policy struct {
	prog       *compile.Program
	detectors  *detect.Registry
	evalOpts   eval.Options
	strictMode bool
}

// Compile parses and type-checks policy source, returning a ready Policy
// on success or a non-empty Diagnostic slice on failure. Exactly one of
// the two return values is meaningful: Diagnostics are nil on success.
func Compile(source string, opts Options) (*Policy, []Diagnostic) {
	return compileNamed("policy", source, opts)
}

// CompileFile is like Compile but attributes Diagnostics to name (a file
// path, typically) rather than the generic "policy".
func CompileFile(name, source string, opts Options) (*Policy, []Diagnostic) {
	return compileNamed(name, source, opts)
}

func compileNamed(name, source string, opts Options) (*Policy, []Diagnostic) {
	f, err := lang.Parse(name, source)
	if err != nil {
		return nil, []Diagnostic{diagnosticFromErr(err)}
	}
	prog, err := compile.Compile(f)
	if err != nil {
		return nil, []Diagnostic{diagnosticFromErr(err)}
	}
	return &Policy{
		prog:       prog,
		detectors:  detect.NewRegistry(opts.Detect),
		evalOpts:   eval.Options{Handlers: opts.Handlers, RaiseUnhandled: opts.RaiseUnhandled},
		strictMode: opts.StrictMode,
	}, nil
}

func diagnosticFromErr(err error) Diagnostic {
	switch e := err.(type) {
	case *lang.ParseError:
		return Diagnostic{File: e.File, Line: e.Line, Col: e.Col, Message: e.Msg}
	case *compile.TypeError:
		return Diagnostic{File: e.Span.File, Line: e.Span.StartLine, Col: e.Span.StartCol, Message: e.Msg}
	default:
		return Diagnostic{Message: err.Error()}
	}
}

// Analyze runs every rule in p once against tr (spec §6: single-shot
// analysis of a complete trace).
func (p *Policy) Analyze(ctx context.Context, tr *trace.Trace, params map[string]trace.Value) (eval.AnalysisResult, error) {
	opts := p.evalOpts
	opts.Params = params
	result, err := eval.Evaluate(ctx, p.prog, tr, p.detectors, opts)
	if err != nil {
		if c, ok := err.(*eval.Cancelled); ok {
			return result, &Cancelled{Partial: c.Partial}
		}
		return result, fmt.Errorf("analyzing trace: %w", err)
	}
	return result, nil
}

// DecodeTrace decodes JSON trace input, honoring Options.StrictMode for
// malformed-trace handling (spec §7): a duplicate ToolCall id or an
// unmatched ToolOutput becomes a Warning in StrictMode==false, or a
// returned *TraceInputError when StrictMode==true.
func (p *Policy) DecodeTrace(data []byte) (*trace.Trace, []trace.Warning, error) {
	tr, warnings, err := trace.Decode(data, p.strictMode)
	if err != nil {
		if tie, ok := err.(*trace.TraceInputError); ok {
			return nil, nil, &TraceInputError{Reason: tie.Reason}
		}
		return nil, nil, err
	}
	return tr, warnings, nil
}

// Monitor wraps a Policy with the incremental-evaluation state described
// in spec §4.6/§5.
type Monitor struct {
	policy *Policy
	m      *monitor.Monitor
}

// NewMonitor builds a Monitor with empty seen-violation state. A Monitor
// evaluates with the Policy's own Options from Compile (handlers,
// RaiseUnhandled, detectors), so detector configuration and handled-error
// routing stay fixed across a session's incremental Check calls.
func NewMonitor(p *Policy) *Monitor {
	return &Monitor{policy: p, m: monitor.New(p.prog, p.detectors, p.evalOpts)}
}

// Check evaluates past++pending and returns only the violations not
// already reported by an earlier Check on the same Monitor (spec §8
// invariant 3).
func (mon *Monitor) Check(ctx context.Context, past, pending []trace.Event) (eval.AnalysisResult, error) {
	result, err := mon.m.Check(ctx, past, pending)
	if err != nil {
		if c, ok := err.(*eval.Cancelled); ok {
			return result, &Cancelled{Partial: c.Partial}
		}
		return result, fmt.Errorf("checking trace: %w", err)
	}
	return result, nil
}

// Reset discards the Monitor's seen-violation state.
func (mon *Monitor) Reset() { mon.m.Reset() }
