package monitor

import (
	"context"
	"testing"

	"traceguard/pkg/compile"
	"traceguard/pkg/detect"
	"traceguard/pkg/eval"
	"traceguard/pkg/lang"
	"traceguard/pkg/trace"
)

const inboxPolicy = `raise "email sent to an unreviewed recipient after reading the inbox" if:
  (a: ToolCall); (b: ToolCall); a -> b
  a is tool:get_inbox(*)
  b is tool:send_email({to: "Mallory"})
`

func mustCompile(t *testing.T, src string) *compile.Program {
	t.Helper()
	f, err := lang.Parse("policy.sec", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := compile.Compile(f)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return prog
}

func mustDecode(t *testing.T, jsonSrc string) *trace.Trace {
	t.Helper()
	tr, warnings, err := trace.Decode([]byte(jsonSrc), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %+v", warnings)
	}
	return tr
}

// traceJSON builds a trace of `pairs` rounds; each round is a get_inbox call,
// its output, a send_email call to "Mallory", and its output. Every
// get_inbox call flows to every later send_email, so each round adds fresh
// violations of inboxPolicy.
func traceJSON(pairs int) string {
	out := "["
	for i := 0; i < pairs; i++ {
		if i > 0 {
			out += ","
		}
		out += `
  {"role": "assistant", "tool_calls": [{"id": "get` + itoa(i) + `", "type": "function", "function": {"name": "get_inbox", "arguments": {}}}]},
  {"role": "tool", "tool_call_id": "get` + itoa(i) + `", "content": "hi"},
  {"role": "assistant", "tool_calls": [{"id": "send` + itoa(i) + `", "type": "function", "function": {"name": "send_email", "arguments": {"to": "Mallory"}}}]},
  {"role": "tool", "tool_call_id": "send` + itoa(i) + `", "content": "sent"}`
	}
	out += "\n]"
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

// TestMonitorEquivalesBatch checks spec §8 invariant 3: the union of
// violations emitted across a sequence of prefix-extending Check calls
// equals what a single batch Evaluate over the final trace produces.
func TestMonitorEquivalesBatch(t *testing.T) {
	prog := mustCompile(t, inboxPolicy)
	reg := detect.NewRegistry(detect.Options{LocalPolicy: true})

	full := mustDecode(t, traceJSON(3))
	batch, err := eval.Evaluate(context.Background(), prog, full, reg, eval.Options{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	m := New(prog, reg, eval.Options{})
	var past []trace.Event
	var incremental []eval.Violation
	for i := 1; i <= 3; i++ {
		partial := mustDecode(t, traceJSON(i))
		pending := partial.Events[len(past):]
		result, err := m.Check(context.Background(), past, pending)
		if err != nil {
			t.Fatalf("Check(%d): %v", i, err)
		}
		incremental = append(incremental, result.Errors...)
		past = partial.Events
	}

	if len(incremental) != len(batch.Errors) {
		t.Fatalf("incremental produced %d violations, batch produced %d", len(incremental), len(batch.Errors))
	}
}

// TestMonitorSuppressesRepeats checks that calling Check twice with the
// same pending slice (no new events) reports the violation only once.
func TestMonitorSuppressesRepeats(t *testing.T) {
	prog := mustCompile(t, inboxPolicy)
	reg := detect.NewRegistry(detect.Options{LocalPolicy: true})
	m := New(prog, reg, eval.Options{})

	tr := mustDecode(t, traceJSON(1))

	first, err := m.Check(context.Background(), nil, tr.Events)
	if err != nil {
		t.Fatalf("first Check: %v", err)
	}
	if len(first.Errors) != 1 {
		t.Fatalf("first Check: got %d violations, want 1", len(first.Errors))
	}

	second, err := m.Check(context.Background(), nil, tr.Events)
	if err != nil {
		t.Fatalf("second Check: %v", err)
	}
	if len(second.Errors) != 0 {
		t.Fatalf("second Check: got %d violations, want 0 (already reported)", len(second.Errors))
	}
}

// TestMonitorReset verifies Reset makes a previously reported violation
// reportable again.
func TestMonitorReset(t *testing.T) {
	prog := mustCompile(t, inboxPolicy)
	reg := detect.NewRegistry(detect.Options{LocalPolicy: true})
	m := New(prog, reg, eval.Options{})

	tr := mustDecode(t, traceJSON(1))
	if _, err := m.Check(context.Background(), nil, tr.Events); err != nil {
		t.Fatalf("Check: %v", err)
	}

	m.Reset()
	result, err := m.Check(context.Background(), nil, tr.Events)
	if err != nil {
		t.Fatalf("Check after Reset: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Check after Reset: got %d violations, want 1", len(result.Errors))
	}
}
