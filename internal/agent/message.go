package agent

import (
	"encoding/json"
	"fmt"
)

// Kind tags a message in the stored transcript.
type Kind string

const (
	KindUser          Kind = "user"
	KindAssistantText Kind = "assistant_text"
	KindToolCall      Kind = "tool_call"
	KindToolResult    Kind = "tool_result"
)

// Message is one conversation turn. The concrete types are UserMessage,
// AssistantTextMessage, AssistantToolCallMessage and ToolResultMessage.
type Message interface {
	Kind() Kind
	isMessage()
}

// UserMessage is a query from the caller.
type UserMessage struct {
	Text string `json:"text"`
}

// AssistantTextMessage is a natural-language answer.
type AssistantTextMessage struct {
	Text string `json:"text"`
}

// AssistantToolCallMessage records a tool the model asked for.
type AssistantToolCallMessage struct {
	CallID string         `json:"callId"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
}

// ToolResultMessage carries a tool's output back to the model.
type ToolResultMessage struct {
	CallID  string `json:"callId"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (UserMessage) Kind() Kind              { return KindUser }
func (AssistantTextMessage) Kind() Kind     { return KindAssistantText }
func (AssistantToolCallMessage) Kind() Kind { return KindToolCall }
func (ToolResultMessage) Kind() Kind        { return KindToolResult }

func (UserMessage) isMessage()              {}
func (AssistantTextMessage) isMessage()     {}
func (AssistantToolCallMessage) isMessage() {}
func (ToolResultMessage) isMessage()        {}

// Transcript is the ordered history of a session.
type Transcript []Message

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes each message with its kind tag.
func (t Transcript) MarshalJSON() ([]byte, error) {
	out := make([]envelope, len(t))
	for i, m := range t {
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message %d: %w", i, err)
		}
		out[i] = envelope{Kind: m.Kind(), Data: data}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a tagged transcript. Unknown kinds are rejected.
func (t *Transcript) UnmarshalJSON(b []byte) error {
	var raw []envelope
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := make(Transcript, 0, len(raw))
	for i, e := range raw {
		var (
			m   Message
			err error
		)
		switch e.Kind {
		case KindUser:
			var v UserMessage
			err = json.Unmarshal(e.Data, &v)
			m = v
		case KindAssistantText:
			var v AssistantTextMessage
			err = json.Unmarshal(e.Data, &v)
			m = v
		case KindToolCall:
			var v AssistantToolCallMessage
			err = json.Unmarshal(e.Data, &v)
			m = v
		case KindToolResult:
			var v ToolResultMessage
			err = json.Unmarshal(e.Data, &v)
			m = v
		default:
			return fmt.Errorf("message %d: unknown kind %q", i, e.Kind)
		}
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		out = append(out, m)
	}
	*t = out
	return nil
}

// LastUserText returns the most recent user query.
func (t Transcript) LastUserText() string {
	for i := len(t) - 1; i >= 0; i-- {
		if u, ok := t[i].(UserMessage); ok {
			return u.Text
		}
	}
	return ""
}
