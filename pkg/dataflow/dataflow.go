// Package dataflow derives the "flows-to" relation (A -> B, spec §4.4)
// over a trace: an over-approximate temporal+semantic precedence relation
// seeded by tool_call_id links, computed once as an id-indexed side table
// (§9: "cyclic references avoided by id-indexed side tables") rather than
// as pointers threaded through the events themselves.
package dataflow

import "traceguard/pkg/trace"

// Graph holds the precomputed flows-to edges for one trace.
type Graph struct {
	edges map[trace.ID]map[trace.ID]bool
}

// Build computes the flows-to relation for tr (spec §4.4):
//
//   - any earlier event -> any later event in the trace, including earlier
//     ToolCalls flowing to later ToolCalls (conservative over-approximation;
//     any earlier context could plausibly have influenced a later call).
//   - ToolCall -> its matching ToolOutput (by tool_call_id).
//
// Two ToolCalls issued within the same assistant message do not flow to
// each other by default (§9 Open Question: "parallel_tool_calls... should
// be treated as mutually non-flowing by default"): they share their parent
// message's Index, so neither is earlier than the other.
func Build(tr *trace.Trace) *Graph {
	g := &Graph{edges: map[trace.ID]map[trace.ID]bool{}}

	// ToolCalls are nested inside their parent Message in tr.Events, so both
	// the source and target domain for a flow edge must include them
	// explicitly alongside the top-level Messages/ToolOutputs.
	events := make([]trace.Event, 0, len(tr.Events)+len(tr.ToolCalls()))
	events = append(events, tr.Events...)
	for _, c := range tr.ToolCalls() {
		events = append(events, c)
	}

	for _, a := range events {
		for _, b := range events {
			if flowsDirect(a, b) {
				g.add(a.EventID(), b.EventID())
			}
		}
	}

	for _, call := range tr.ToolCalls() {
		if out, ok := tr.OutputFor(call); ok {
			g.add(call.EventID(), out.EventID())
		}
	}

	return g
}

// flowsDirect implements the temporal-precedence half of §4.4 clauses
// (ii) and (iii): any event earlier in the trace flows to any later event
// in the same conversation window — the deliberate over-approximation
// §4.4 calls for. Two ToolCalls issued within the same assistant message
// share their parent's Index, so this condition alone already keeps them
// from flowing to each other (§9 Open Question).
func flowsDirect(a, b trace.Event) bool {
	return a.EventIndex() < b.EventIndex()
}

func (g *Graph) add(from, to trace.ID) {
	if from == to {
		return
	}
	m, ok := g.edges[from]
	if !ok {
		m = map[trace.ID]bool{}
		g.edges[from] = m
	}
	m[to] = true
}

// Flows reports whether from -> to holds.
func (g *Graph) Flows(from, to trace.ID) bool {
	return g.edges[from][to]
}

// FlowsFrom returns every id that from flows to, in no particular order.
func (g *Graph) FlowsFrom(from trace.ID) []trace.ID {
	m := g.edges[from]
	out := make([]trace.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
