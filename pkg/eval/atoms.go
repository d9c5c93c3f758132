package eval

import (
	"fmt"

	"traceguard/pkg/lang"
	"traceguard/pkg/match"
	"traceguard/pkg/trace"
)

func evalPatternAssertion(x *lang.PatternAssertion, e *env) (bool, []trace.Range, bool, []trace.Warning, error) {
	ev, ok := resolveEvent(x.Target, e)
	if !ok {
		return false, nil, false, nil, fmt.Errorf("unbound pattern target at %s", x.Span)
	}
	call, ok := ev.(*trace.ToolCall)
	if !ok {
		return false, nil, false, nil, nil
	}
	res, err := match.MatchToolCall(e.ctx, call, x.Name, x.HasName, x.Pattern, e.detectors)
	if err != nil {
		return false, nil, false, nil, err
	}
	if res.Unknown {
		return false, nil, true, res.Warnings, nil
	}
	return res.Matched, res.Ranges, false, res.Warnings, nil
}

func evalFlowAssertion(x *lang.FlowAssertion, e *env) (bool, []trace.Range, bool, []trace.Warning, error) {
	from, ok := resolveEvent(x.From, e)
	if !ok {
		return false, nil, false, nil, fmt.Errorf("unbound flow source at %s", x.Span)
	}
	to, ok := resolveEvent(x.To, e)
	if !ok {
		return false, nil, false, nil, fmt.Errorf("unbound flow target at %s", x.Span)
	}
	if !e.flows.Flows(from.EventID(), to.EventID()) {
		return false, nil, false, nil, nil
	}
	return true, []trace.Range{trace.NewRange(from.EventID(), ""), trace.NewRange(to.EventID(), "")}, false, nil, nil
}

// resolveEvent resolves an Ident expression directly to its bound event,
// without going through Value conversion — flow/pattern assertions need
// the event's identity and concrete type, not its rendered field values.
func resolveEvent(e lang.Expr, en *env) (trace.Event, bool) {
	id, ok := e.(*lang.Ident)
	if !ok {
		return nil, false
	}
	ev, ok := en.bindings[id.Name]
	return ev, ok
}
