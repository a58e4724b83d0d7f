package agent

import (
	"encoding/json"
	"strings"
)

// Reply is the parsed form of a model completion: ToolInvocation,
// TextReply or Malformed.
type Reply interface {
	isReply()
}

// ToolInvocation asks the agent to run a registered tool.
type ToolInvocation struct {
	Name string
	Args map[string]any
}

// TextReply is a final natural-language answer.
type TextReply struct {
	Text string
}

// Malformed is a completion that can be neither executed nor shown.
type Malformed struct {
	Raw    string
	Reason string
}

func (ToolInvocation) isReply() {}
func (TextReply) isReply()      {}
func (Malformed) isReply()      {}

// ParseReply classifies a completion. A JSON object carrying a "name" is
// treated as a tool call and must name a known tool with an object "args".
// Any other non-empty text is a plain answer.
func ParseReply(text string, known func(name string) bool) Reply {
	text = strings.TrimSpace(text)
	if text == "" {
		return Malformed{Raw: text, Reason: "empty reply"}
	}
	if !strings.HasPrefix(text, "{") {
		return TextReply{Text: text}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return TextReply{Text: text}
	}
	rawName, ok := obj["name"]
	if !ok {
		return TextReply{Text: text}
	}

	var name string
	if err := json.Unmarshal(rawName, &name); err != nil || name == "" {
		return Malformed{Raw: text, Reason: "tool name must be a non-empty string"}
	}
	if known != nil && !known(name) {
		return Malformed{Raw: text, Reason: "unknown tool " + name}
	}

	rawArgs, ok := obj["args"]
	if !ok {
		return Malformed{Raw: text, Reason: "tool call is missing args"}
	}
	var args map[string]any
	if err := json.Unmarshal(rawArgs, &args); err != nil || args == nil {
		return Malformed{Raw: text, Reason: "tool args must be an object"}
	}
	return ToolInvocation{Name: name, Args: args}
}
