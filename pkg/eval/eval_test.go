package eval

import (
	"context"
	"testing"

	"traceguard/pkg/compile"
	"traceguard/pkg/detect"
	"traceguard/pkg/lang"
	"traceguard/pkg/trace"
)

const monotoneRule = `raise "email sent to an unreviewed recipient after reading the inbox" if:
  (a: ToolCall); (b: ToolCall); a -> b
  a is tool:get_inbox(*)
  b is tool:send_email(*)
  not b.function.arguments.to == "Peter"
`

func mustProgram(t *testing.T, src string) *compile.Program {
	t.Helper()
	f, err := lang.Parse("test", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	prog, err := compile.Compile(f)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return prog
}

func mustTrace(t *testing.T, traceJSON string) *trace.Trace {
	t.Helper()
	tr, _, err := trace.Decode([]byte(traceJSON), false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return tr
}

// Invariant 1 (spec §8): analyze(T, P) returns the same multiset of errors
// on repeated calls.
func TestDeterminismAcrossRepeatedEvaluate(t *testing.T) {
	prog := mustProgram(t, monotoneRule)
	tr := mustTrace(t, `[
  {"role": "assistant", "tool_calls": [{"id": "c1", "type": "function", "function": {"name": "get_inbox", "arguments": {}}}]},
  {"role": "tool", "tool_call_id": "c1", "content": "1 unread message"},
  {"role": "assistant", "tool_calls": [{"id": "c2", "type": "function", "function": {"name": "send_email", "arguments": {"to": "Attacker"}}}]}
]`)
	reg := detect.NewRegistry(detect.Options{LocalPolicy: true})

	first, err := Evaluate(context.Background(), prog, tr, reg, Options{})
	if err != nil {
		t.Fatalf("Evaluate (first): %v", err)
	}
	second, err := Evaluate(context.Background(), prog, tr, reg, Options{})
	if err != nil {
		t.Fatalf("Evaluate (second): %v", err)
	}

	if len(first.Errors) != len(second.Errors) {
		t.Fatalf("nondeterministic violation count: %d vs %d", len(first.Errors), len(second.Errors))
	}
	for i := range first.Errors {
		if first.Errors[i].Message != second.Errors[i].Message || first.Errors[i].RuleIndex != second.Errors[i].RuleIndex {
			t.Fatalf("nondeterministic violation at index %d: %+v vs %+v", i, first.Errors[i], second.Errors[i])
		}
	}
}

// Invariant 2 (spec §8): if T' extends T, errors(analyze(T, P)) is a subset
// of errors(analyze(T', P)) for rules whose bodies are monotone in the
// trace (no `not` quantifying over the future — this rule's `not` only
// constrains the already-bound b, not a yet-unbound future variable).
func TestMonotonicityUnderPrefixExtension(t *testing.T) {
	prog := mustProgram(t, monotoneRule)
	reg := detect.NewRegistry(detect.Options{LocalPolicy: true})

	shortTrace := mustTrace(t, `[
  {"role": "assistant", "tool_calls": [{"id": "c1", "type": "function", "function": {"name": "get_inbox", "arguments": {}}}]},
  {"role": "tool", "tool_call_id": "c1", "content": "1 unread message"},
  {"role": "assistant", "tool_calls": [{"id": "c2", "type": "function", "function": {"name": "send_email", "arguments": {"to": "Attacker"}}}]}
]`)
	extendedTrace := mustTrace(t, `[
  {"role": "assistant", "tool_calls": [{"id": "c1", "type": "function", "function": {"name": "get_inbox", "arguments": {}}}]},
  {"role": "tool", "tool_call_id": "c1", "content": "1 unread message"},
  {"role": "assistant", "tool_calls": [{"id": "c2", "type": "function", "function": {"name": "send_email", "arguments": {"to": "Attacker"}}}]},
  {"role": "assistant", "tool_calls": [{"id": "c3", "type": "function", "function": {"name": "send_email", "arguments": {"to": "Eve"}}}]}
]`)

	shortResult, err := Evaluate(context.Background(), prog, shortTrace, reg, Options{})
	if err != nil {
		t.Fatalf("Evaluate (short): %v", err)
	}
	extendedResult, err := Evaluate(context.Background(), prog, extendedTrace, reg, Options{})
	if err != nil {
		t.Fatalf("Evaluate (extended): %v", err)
	}

	if len(shortResult.Errors) == 0 {
		t.Fatalf("expected at least one violation on the short trace")
	}
	if len(extendedResult.Errors) < len(shortResult.Errors) {
		t.Fatalf("extending the trace must not remove violations: %d -> %d", len(shortResult.Errors), len(extendedResult.Errors))
	}

	seen := make(map[string]int)
	for _, v := range extendedResult.Errors {
		seen[v.Message]++
	}
	for _, v := range shortResult.Errors {
		if seen[v.Message] == 0 {
			t.Fatalf("violation %q present on the short trace vanished on the extended trace", v.Message)
		}
		seen[v.Message]--
	}
}
