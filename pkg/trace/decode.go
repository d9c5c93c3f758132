package trace

import (
	"encoding/json"
	"fmt"
)

// wireToolCall mirrors the JSON shape of a ToolCall as nested under a
// Message's "tool_calls" array.
type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// wireEvent mirrors the union of Message and ToolOutput JSON shapes. The
// discriminator is the presence of "tool_call_id": per §3, ToolOutput is
// the only variant carrying it.
type wireEvent struct {
	Role       string         `json:"role"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID *string        `json:"tool_call_id,omitempty"`
}

// Decode parses JSON-compatible trace input (§6) into a Trace. The input is
// a JSON array of event objects. Unknown roles pass through without error
// (§6: "an unknown role never causes a crash"). strict controls whether
// malformed-trace conditions (§7 TraceInputError) are fatal or warnings.
func Decode(data []byte, strict bool) (*Trace, []Warning, error) {
	var raw []wireEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("decode trace: %w", err)
	}

	var nextID ID
	freshID := func() ID {
		id := nextID
		nextID++
		return id
	}

	events := make([]Event, 0, len(raw))
	for i, we := range raw {
		if we.ToolCallID != nil {
			content, err := decodeContentValue(we.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("decode trace: event %d content: %w", i, err)
			}
			events = append(events, &ToolOutput{
				ID:         freshID(),
				Index:      i,
				ToolCallID: *we.ToolCallID,
				Content:    content,
			})
			continue
		}

		msg := &Message{ID: freshID(), Index: i, Role: we.Role}
		if len(we.Content) > 0 && string(we.Content) != "null" {
			v, err := decodeContentValue(we.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("decode trace: event %d content: %w", i, err)
			}
			msg.Content = &v
		}
		for j, wc := range we.ToolCalls {
			args := make(map[string]Value, len(wc.Function.Arguments))
			for k, av := range wc.Function.Arguments {
				args[k] = FromAny(av)
			}
			tc := &ToolCall{
				ID:      freshID(),
				Index:   i,
				Ordinal: j,
				CallID:  wc.ID,
				Type:    wc.Type,
				Function: Function{
					Name:      wc.Function.Name,
					Arguments: args,
				},
				Parent: msg,
			}
			msg.Calls = append(msg.Calls, tc)
		}
		events = append(events, msg)
	}

	return Build(events, strict)
}

func decodeContentValue(raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return Null, nil
	}
	var x any
	if err := json.Unmarshal(raw, &x); err != nil {
		return Null, err
	}
	return FromAny(x), nil
}
