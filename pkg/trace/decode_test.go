package trace

import "testing"

func TestDecodeInboxThenSend(t *testing.T) {
	data := []byte(`[
		{"role": "assistant", "content": null, "tool_calls": [
			{"id": "call_1", "type": "function", "function": {"name": "get_inbox", "arguments": {}}}
		]},
		{"role": "tool", "tool_call_id": "call_1", "content": "1 new message from Bob"},
		{"role": "assistant", "content": null, "tool_calls": [
			{"id": "call_2", "type": "function", "function": {"name": "send_email", "arguments": {"to": "Attacker"}}}
		]}
	]`)

	tr, warnings, err := Decode(data, false)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if tr.Len() != 3 {
		t.Fatalf("got %d top-level events, want 3", tr.Len())
	}

	calls := tr.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("got %d tool calls, want 2", len(calls))
	}
	if calls[0].Function.Name != "get_inbox" || calls[1].Function.Name != "send_email" {
		t.Fatalf("unexpected call order: %v", calls)
	}

	to, ok := calls[1].Function.Arg("to")
	if !ok {
		t.Fatal("send_email missing 'to' argument")
	}
	if s, _ := to.AsString(); s != "Attacker" {
		t.Fatalf("got to=%q, want Attacker", s)
	}

	out, ok := tr.OutputFor(calls[0])
	if !ok {
		t.Fatal("expected a ToolOutput for get_inbox")
	}
	if s, _ := out.Content.AsString(); s != "1 new message from Bob" {
		t.Fatalf("unexpected output content: %v", out.Content)
	}
}

func TestDecodeUnmatchedOutputIsWarningUnlessStrict(t *testing.T) {
	data := []byte(`[{"role": "tool", "tool_call_id": "ghost", "content": "x"}]`)

	_, warnings, err := Decode(data, false)
	if err != nil {
		t.Fatalf("non-strict decode should not fail: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}

	_, _, err = Decode(data, true)
	if err == nil {
		t.Fatal("strict decode should fail on an unmatched tool_call_id")
	}
}

func TestDecodeDuplicateToolCallID(t *testing.T) {
	data := []byte(`[
		{"role": "assistant", "content": null, "tool_calls": [
			{"id": "dup", "type": "function", "function": {"name": "a", "arguments": {}}}
		]},
		{"role": "assistant", "content": null, "tool_calls": [
			{"id": "dup", "type": "function", "function": {"name": "b", "arguments": {}}}
		]}
	]`)

	_, warnings, err := Decode(data, false)
	if err != nil {
		t.Fatalf("non-strict decode should not fail: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}

	if _, _, err := Decode(data, true); err == nil {
		t.Fatal("strict decode should fail on duplicate ToolCall id")
	}
}

func TestUnknownRolePassesThrough(t *testing.T) {
	data := []byte(`[{"role": "observer", "content": "hi"}]`)
	tr, _, err := Decode(data, false)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	msgs := tr.Messages()
	if len(msgs) != 1 || msgs[0].Role != "observer" {
		t.Fatalf("unknown role did not pass through: %+v", msgs)
	}
}
