package eval

import (
	"context"

	"traceguard/pkg/compile"
	"traceguard/pkg/dataflow"
	"traceguard/pkg/detect"
	"traceguard/pkg/trace"
)

// env is the evaluation context threaded through expression evaluation:
// the current variable bindings (event-valued, per §9 "tagged union ...
// pattern-match in the evaluator"), the trace and its flow graph, the
// detector registry, and the predicate table. It is created fresh per
// rule evaluation and never mutated concurrently.
type env struct {
	ctx        context.Context
	tr         *trace.Trace
	flows      *dataflow.Graph
	detectors  *detect.Registry
	predicates map[string]*compile.Predicate
	bindings   map[string]trace.Event
	params     map[string]trace.Value
}

func (e *env) with(name string, ev trace.Event) *env {
	next := make(map[string]trace.Event, len(e.bindings)+1)
	for k, v := range e.bindings {
		next[k] = v
	}
	next[name] = ev
	return &env{ctx: e.ctx, tr: e.tr, flows: e.flows, detectors: e.detectors, predicates: e.predicates, bindings: next, params: e.params}
}

// eventToValue renders a bound event as a Value so attribute/index
// expressions (`a.function.name`, `out.content`) can dereference it
// uniformly, regardless of which Event variant it is.
func eventToValue(e trace.Event) trace.Value {
	switch ev := e.(type) {
	case *trace.Message:
		content := trace.Null
		if ev.Content != nil {
			content = *ev.Content
		}
		return trace.Map(map[string]trace.Value{
			"role":    trace.String(ev.Role),
			"content": content,
		})
	case *trace.ToolCall:
		args := make(map[string]trace.Value, len(ev.Function.Arguments))
		for k, v := range ev.Function.Arguments {
			args[k] = v
		}
		return trace.Map(map[string]trace.Value{
			"id":   trace.String(ev.CallID),
			"type": trace.String(ev.Type),
			"function": trace.Map(map[string]trace.Value{
				"name":      trace.String(ev.Function.Name),
				"arguments": trace.Map(args),
			}),
		})
	case *trace.ToolOutput:
		return trace.Map(map[string]trace.Value{
			"tool_call_id": trace.String(ev.ToolCallID),
			"content":      ev.Content,
		})
	default:
		return trace.Null
	}
}
