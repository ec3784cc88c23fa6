// Package session implements append-only per-conversation item logs stored
// as JSON-lines files under a project-scoped directory, with file locking
// for safe concurrent access from multiple processes.
package session

import (
	"encoding/json"
	"fmt"
)

// ItemKind discriminates the variants of an Item.
type ItemKind string

const (
	KindUserText   ItemKind = "user_text"
	KindAssistant  ItemKind = "assistant_message"
	KindToolCall   ItemKind = "function_call"
	KindToolOutput ItemKind = "function_call_output"
	KindReasoning  ItemKind = "reasoning"
	KindUnknown    ItemKind = "unknown"
)

// Item is a single entry in a session log. Exactly one variant pointer is
// non-nil for recognized kinds. Raw holds the original wire line for items
// decoded from disk so unknown keys survive a rewrite; items constructed
// in-process have a nil Raw and are marshalled from their variant.
type Item struct {
	Kind       ItemKind
	User       *UserText
	Assistant  *AssistantMessage
	ToolCall   *ToolCall
	ToolOutput *ToolOutput
	Reasoning  *Reasoning
	Raw        json.RawMessage
}

// UserText is a plain user input line.
type UserText struct {
	Text string
}

// AssistantMessage is a completed assistant turn message.
type AssistantMessage struct {
	Text   string
	Status string
}

// ToolCall records a model-requested tool invocation. Arguments is the raw
// JSON argument string as produced by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// ToolOutput records the result of a tool invocation, paired to its call by
// CallID.
type ToolOutput struct {
	CallID string
	Output string
}

// Reasoning records a model reasoning summary.
type Reasoning struct {
	Summary []string
}

// NewUserText builds a user input item.
func NewUserText(text string) Item {
	return Item{Kind: KindUserText, User: &UserText{Text: text}}
}

// NewAssistantMessage builds a completed assistant message item.
func NewAssistantMessage(text string) Item {
	return Item{Kind: KindAssistant, Assistant: &AssistantMessage{Text: text, Status: "completed"}}
}

// NewToolCall builds a tool call item.
func NewToolCall(callID, name, arguments string) Item {
	return Item{Kind: KindToolCall, ToolCall: &ToolCall{CallID: callID, Name: name, Arguments: arguments}}
}

// NewToolOutput builds a tool output item.
func NewToolOutput(callID, output string) Item {
	return Item{Kind: KindToolOutput, ToolOutput: &ToolOutput{CallID: callID, Output: output}}
}

// NewReasoning builds a reasoning summary item.
func NewReasoning(summary []string) Item {
	return Item{Kind: KindReasoning, Reasoning: &Reasoning{Summary: summary}}
}

// Wire shapes. The on-disk format is a permissive superset of these; decode
// keeps the raw line so unrecognized keys round-trip.

type wireProbe struct {
	Role string `json:"role"`
	Type string `json:"type"`
}

type wireUser struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireAssistant struct {
	Role    string                 `json:"role"`
	Type    string                 `json:"type"`
	Content []wireAssistantContent `json:"content"`
	Status  string                 `json:"status,omitempty"`
}

type wireAssistantContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wireToolCall struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolOutput struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type wireReasoning struct {
	Type    string                `json:"type"`
	Summary []wireReasoningBullet `json:"summary"`
}

type wireReasoningBullet struct {
	Text string `json:"text"`
}

// MarshalJSON writes the item in its wire shape. Items decoded from disk are
// written back verbatim from Raw.
func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.Raw) > 0 {
		return it.Raw, nil
	}

	switch it.Kind {
	case KindUserText:
		if it.User == nil {
			return nil, fmt.Errorf("user item missing payload")
		}
		return json.Marshal(wireUser{Role: "user", Content: it.User.Text})
	case KindAssistant:
		if it.Assistant == nil {
			return nil, fmt.Errorf("assistant item missing payload")
		}
		return json.Marshal(wireAssistant{
			Role:    "assistant",
			Type:    "message",
			Content: []wireAssistantContent{{Type: "output_text", Text: it.Assistant.Text}},
			Status:  it.Assistant.Status,
		})
	case KindToolCall:
		if it.ToolCall == nil {
			return nil, fmt.Errorf("function_call item missing payload")
		}
		return json.Marshal(wireToolCall{
			Type:      "function_call",
			CallID:    it.ToolCall.CallID,
			Name:      it.ToolCall.Name,
			Arguments: it.ToolCall.Arguments,
		})
	case KindToolOutput:
		if it.ToolOutput == nil {
			return nil, fmt.Errorf("function_call_output item missing payload")
		}
		return json.Marshal(wireToolOutput{
			Type:   "function_call_output",
			CallID: it.ToolOutput.CallID,
			Output: it.ToolOutput.Output,
		})
	case KindReasoning:
		if it.Reasoning == nil {
			return nil, fmt.Errorf("reasoning item missing payload")
		}
		bullets := make([]wireReasoningBullet, 0, len(it.Reasoning.Summary))
		for _, s := range it.Reasoning.Summary {
			bullets = append(bullets, wireReasoningBullet{Text: s})
		}
		return json.Marshal(wireReasoning{Type: "reasoning", Summary: bullets})
	default:
		return nil, fmt.Errorf("cannot marshal item of kind %q without raw payload", it.Kind)
	}
}

// UnmarshalJSON decodes a wire line into an Item, tolerating unknown shapes.
// Unrecognized top-level types decode to KindUnknown with the raw line
// preserved.
func (it *Item) UnmarshalJSON(data []byte) error {
	var probe wireProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	*it = Item{Raw: raw}

	switch {
	case probe.Role == "user":
		var w wireUser
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		it.Kind = KindUserText
		it.User = &UserText{Text: w.Content}
	case probe.Role == "assistant":
		var w wireAssistant
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		var text string
		for _, c := range w.Content {
			if c.Type == "output_text" {
				text += c.Text
			}
		}
		it.Kind = KindAssistant
		it.Assistant = &AssistantMessage{Text: text, Status: w.Status}
	case probe.Type == "function_call":
		var w wireToolCall
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		it.Kind = KindToolCall
		it.ToolCall = &ToolCall{CallID: w.CallID, Name: w.Name, Arguments: w.Arguments}
	case probe.Type == "function_call_output":
		var w wireToolOutput
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		it.Kind = KindToolOutput
		it.ToolOutput = &ToolOutput{CallID: w.CallID, Output: w.Output}
	case probe.Type == "reasoning":
		var w wireReasoning
		if err := json.Unmarshal(data, &w); err != nil {
			return err
		}
		summary := make([]string, 0, len(w.Summary))
		for _, b := range w.Summary {
			summary = append(summary, b.Text)
		}
		it.Kind = KindReasoning
		it.Reasoning = &Reasoning{Summary: summary}
	default:
		it.Kind = KindUnknown
	}
	return nil
}
