// Package eval implements the rule evaluator (spec §4.5): for each
// compiled rule it enumerates candidate bindings of its quantified
// variables via typed generate-and-filter, cutting a branch the moment a
// filter fails, and emits a Violation per fully satisfying binding with
// the union of Ranges touched along the way (§8 invariant 4, localization
// soundness).
package eval

import (
	"context"
	"fmt"

	"traceguard/pkg/compile"
	"traceguard/pkg/dataflow"
	"traceguard/pkg/detect"
	"traceguard/pkg/lang"
	"traceguard/pkg/trace"
)

// Handler is invoked instead of surfacing a Violation into AnalysisResult.Errors
// when one is registered for the violation's Kind (spec §4.5 step 4, §7
// "structured handled-error hook").
type Handler func(Violation)

// Options configures one evaluation run.
type Options struct {
	Handlers       map[string]Handler
	RaiseUnhandled bool
	// Params are extra named values a rule body may reference directly
	// (e.g. a configurable threshold), resolved like a bound variable but
	// carrying no localization Range since they come from the caller, not
	// the trace (spec §6 Policy.Analyze's params argument).
	Params map[string]trace.Value
}

// Cancelled is returned (wrapping a partial AnalysisResult) when ctx is
// cancelled mid-evaluation (§5 "Cancellation never corrupts monitor
// state: fingerprints are only committed after the full rule completes").
type Cancelled struct{ Partial AnalysisResult }

func (*Cancelled) Error() string { return "evaluation cancelled" }

// Evaluate runs every compiled rule in prog against tr once (a single
// batch analysis; the incremental monitor in pkg/monitor calls this over
// growing trace prefixes).
func Evaluate(ctx context.Context, prog *compile.Program, tr *trace.Trace, detectors *detect.Registry, opts Options) (AnalysisResult, error) {
	flows := dataflow.Build(tr)
	result := AnalysisResult{}

	for ruleIdx, rule := range prog.Rules {
		select {
		case <-ctx.Done():
			result.Cancelled = true
			return result, &Cancelled{Partial: result}
		default:
		}

		e := &env{ctx: ctx, tr: tr, flows: flows, detectors: detectors, predicates: prog.Predicates, bindings: map[string]trace.Event{}, params: opts.Params}
		vios, warnings, err := evalRule(rule, ruleIdx, e)
		if err != nil {
			return result, fmt.Errorf("evaluating rule %s: %w", rule.Source.Span, err)
		}
		result.Warnings = append(result.Warnings, warnings...)

		for _, v := range vios {
			if h, ok := opts.Handlers[v.Kind]; ok && !opts.RaiseUnhandled {
				h(v)
				result.HandledErrors = append(result.HandledErrors, v)
				continue
			}
			result.Errors = append(result.Errors, v)
		}
	}

	select {
	case <-ctx.Done():
		result.Cancelled = true
		return result, &Cancelled{Partial: result}
	default:
	}
	return result, nil
}

func evalRule(rule *compile.Rule, ruleIdx int, e *env) ([]Violation, []trace.Warning, error) {
	var out []Violation
	var warnings []trace.Warning
	appliedFilters := make([]bool, len(rule.Filters))

	var walk func(genIdx int, cur *env, usedRanges []trace.Range, appliedCopy []bool) error
	walk = func(genIdx int, cur *env, ranges []trace.Range, applied []bool) error {
		// Run every filter whose free variables are all bound, as soon as
		// possible (spec §4.5 step 1: "cutting branches as soon as a
		// filter fails").
		applied = append([]bool{}, applied...)
		for i, f := range rule.Filters {
			if applied[i] {
				continue
			}
			if !allBound(rule.FilterVars[i], cur.bindings) {
				continue
			}
			matched, frRanges, unknown, fwarnings, err := evalFilter(f, cur)
			if err != nil {
				return err
			}
			warnings = append(warnings, fwarnings...)
			if unknown {
				return nil // atom is unknown; skip this binding entirely
			}
			if !matched {
				return nil
			}
			applied[i] = true
			ranges = append(ranges, frRanges...)
		}

		if genIdx == len(rule.Generators) {
			allApplied := true
			for _, a := range applied {
				if !a {
					allApplied = false
				}
			}
			if !allApplied {
				return nil // a filter's variables never became fully bound
			}
			v, err := buildViolation(rule, ruleIdx, cur, ranges)
			if err != nil {
				return err
			}
			out = append(out, v)
			return nil
		}

		items, err := generatorItems(rule.Generators[genIdx], cur)
		if err != nil {
			return err
		}
		name := generatorName(rule.Generators[genIdx])
		for _, item := range items {
			if err := walk(genIdx+1, cur.with(name, item), ranges, applied); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(0, e, nil, appliedFilters); err != nil {
		return nil, warnings, err
	}
	return out, warnings, nil
}

func allBound(vars []string, bindings map[string]trace.Event) bool {
	for _, v := range vars {
		if _, ok := bindings[v]; !ok {
			if _, builtin := compile.BuiltinCollection(v); !builtin {
				return false
			}
		}
	}
	return true
}

func generatorName(a lang.Atom) string {
	switch x := a.(type) {
	case *lang.VarBinding:
		return x.Name
	case *lang.MembershipBinding:
		return x.Name
	}
	return ""
}

func generatorItems(a lang.Atom, e *env) ([]trace.Event, error) {
	switch x := a.(type) {
	case *lang.VarBinding:
		return collectionFor(x.Type, e.tr), nil
	case *lang.MembershipBinding:
		id, ok := x.Expr.(*lang.Ident)
		if !ok {
			return nil, fmt.Errorf("unsupported membership source at %s", x.Span)
		}
		if t, isBuiltin := compile.BuiltinCollection(id.Name); isBuiltin {
			return collectionFor(t, e.tr), nil
		}
		return nil, fmt.Errorf("unknown collection %q at %s", id.Name, x.Span)
	}
	return nil, fmt.Errorf("unsupported generator atom %T", a)
}

func collectionFor(typ string, tr *trace.Trace) []trace.Event {
	switch typ {
	case "ToolCall":
		calls := tr.ToolCalls()
		out := make([]trace.Event, len(calls))
		for i, c := range calls {
			out[i] = c
		}
		return out
	case "ToolOutput":
		outs := tr.ToolOutputs()
		out := make([]trace.Event, len(outs))
		for i, o := range outs {
			out[i] = o
		}
		return out
	case "Message":
		msgs := tr.Messages()
		out := make([]trace.Event, len(msgs))
		for i, m := range msgs {
			out[i] = m
		}
		return out
	default: // "Event": every top-level event
		return tr.Events
	}
}

func evalFilter(a lang.Atom, e *env) (matched bool, ranges []trace.Range, unknown bool, warnings []trace.Warning, err error) {
	switch x := a.(type) {
	case *lang.PatternAssertion:
		return evalPatternAssertion(x, e)
	case *lang.FlowAssertion:
		return evalFlowAssertion(x, e)
	case *lang.BoolAtom:
		out, err := evalExpr(x.Expr, e)
		if err != nil {
			return false, nil, false, nil, err
		}
		if out.Unknown {
			return false, nil, true, out.Warnings, nil
		}
		var r []trace.Range
		if out.HasRange {
			r = []trace.Range{out.Range}
		}
		return asBool(out.Value), r, false, out.Warnings, nil
	}
	return false, nil, false, nil, fmt.Errorf("unsupported filter atom %T", a)
}

func buildViolation(rule *compile.Rule, ruleIdx int, e *env, ranges []trace.Range) (Violation, error) {
	ctor := rule.Source.Ctor
	bindings := make(map[string]trace.ID, len(e.bindings))
	for name, ev := range e.bindings {
		bindings[name] = ev.EventID()
	}
	v := Violation{Kind: "PolicyViolation", RuleSpan: rule.Source.Span.String(), RuleIndex: ruleIdx, Ranges: dedupRanges(ranges), Bindings: bindings}
	if ctor == nil {
		return v, nil
	}
	if !ctor.IsCall {
		v.Message = ctor.Kind
		return v, nil
	}
	v.Kind = ctor.Name
	fields := map[string]trace.Value{}
	for _, name := range ctor.KeywordOrd {
		out, err := evalExpr(ctor.Keyword[name], e)
		if err != nil {
			return Violation{}, err
		}
		fields[name] = out.Value
	}
	v.Fields = fields
	if len(ctor.Positional) > 0 {
		out, err := evalExpr(ctor.Positional[0], e)
		if err != nil {
			return Violation{}, err
		}
		if s, ok := out.Value.AsString(); ok {
			v.Message = s
		}
	}
	return v, nil
}

func dedupRanges(ranges []trace.Range) []trace.Range {
	seen := map[trace.Range]bool{}
	var out []trace.Range
	for _, r := range ranges {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
