package trace

import "fmt"

// Trace is the ordered, immutable sequence of top-level events (Messages
// and ToolOutputs) that a policy evaluates against. The engine never
// mutates events; Trace additionally carries read-only indices derived
// once at construction time (§3 "Lifecycle").
type Trace struct {
	Events []Event // top-level only: *Message and *ToolOutput, in order

	byID       map[ID]Event
	calls      []*ToolCall          // every ToolCall, nested or not, in trace order
	callByID   map[string]*ToolCall // CallID -> ToolCall, unique
	outputByID map[string]*ToolOutput
}

// Build indexes a slice of top-level events into a Trace. It keeps the IDs
// the events already carry (Decode assigns them sequentially). When strict
// is false (the default), a duplicate ToolCall id or a ToolOutput with no
// earlier matching ToolCall produces a Warning and evaluation proceeds;
// when strict is true, either condition returns a *TraceInputError (§7).
func Build(topLevel []Event, strict bool) (*Trace, []Warning, error) {
	tr := &Trace{
		byID:       make(map[ID]Event),
		callByID:   make(map[string]*ToolCall),
		outputByID: make(map[string]*ToolOutput),
	}
	var warnings []Warning

	tr.Events = topLevel
	for _, e := range topLevel {
		tr.byID[e.EventID()] = e

		if m, ok := e.(*Message); ok {
			for _, c := range m.Calls {
				tr.byID[c.ID] = c
				tr.calls = append(tr.calls, c)
				if existing, dup := tr.callByID[c.CallID]; dup {
					msg := fmt.Sprintf("duplicate ToolCall id %q (first seen at index %d)", c.CallID, existing.Index)
					if strict {
						return nil, warnings, &TraceInputError{Reason: msg}
					}
					warnings = append(warnings, Warning{Kind: "TraceInputError", Message: msg})
					continue
				}
				tr.callByID[c.CallID] = c
			}
		}
		if o, ok := e.(*ToolOutput); ok {
			tr.outputByID[o.ToolCallID] = o
		}
	}

	for _, o := range tr.outputByID {
		if c, ok := tr.callByID[o.ToolCallID]; !ok || c.Index > o.Index {
			msg := fmt.Sprintf("ToolOutput at index %d references no earlier ToolCall with tool_call_id %q", o.Index, o.ToolCallID)
			if strict {
				return nil, warnings, &TraceInputError{Reason: msg}
			}
			warnings = append(warnings, Warning{Kind: "TraceInputError", Message: msg})
		}
	}

	return tr, warnings, nil
}

// ByID looks up any event (Message, ToolCall, or ToolOutput) by identity.
func (t *Trace) ByID(id ID) (Event, bool) {
	e, ok := t.byID[id]
	return e, ok
}

// ToolCalls returns every ToolCall in the trace, in trace order.
func (t *Trace) ToolCalls() []*ToolCall { return t.calls }

// CallByID returns the ToolCall with the given wire id, if any.
func (t *Trace) CallByID(callID string) (*ToolCall, bool) {
	c, ok := t.callByID[callID]
	return c, ok
}

// OutputFor returns the ToolOutput matching a ToolCall's CallID, if present.
func (t *Trace) OutputFor(c *ToolCall) (*ToolOutput, bool) {
	o, ok := t.outputByID[c.CallID]
	return o, ok
}

// Messages returns every top-level Message, in trace order.
func (t *Trace) Messages() []*Message {
	var out []*Message
	for _, e := range t.Events {
		if m, ok := e.(*Message); ok {
			out = append(out, m)
		}
	}
	return out
}

// ToolOutputs returns every top-level ToolOutput, in trace order.
func (t *Trace) ToolOutputs() []*ToolOutput {
	var out []*ToolOutput
	for _, e := range t.Events {
		if o, ok := e.(*ToolOutput); ok {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the number of top-level events.
func (t *Trace) Len() int { return len(t.Events) }
