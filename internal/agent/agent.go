// Package agent runs the back-office support assistant: a tool-calling loop
// over the LLM gateway with conversation state kept in the cache.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/llm"
)

// DefaultRecursionLimit caps model and tool steps per invocation.
const DefaultRecursionLimit = 10

// ApologyText is returned when the gateway cannot be reached.
const ApologyText = "Sorry, I encountered an error while contacting the assistant. Please try again later."

// ErrRecursionLimit is returned when a query does not settle within the
// step limit.
var ErrRecursionLimit = errors.New("agent recursion limit reached")

// Result is the outcome of one invocation.
type Result struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

// Agent answers queries, calling tools when the model asks for them.
type Agent struct {
	completer      llm.Completer
	tools          *Registry
	sessions       *SessionStore
	recursionLimit int
}

// New creates an agent.
func New(completer llm.Completer, tools *Registry, sessions *SessionStore, recursionLimit int) *Agent {
	if recursionLimit <= 0 {
		recursionLimit = DefaultRecursionLimit
	}
	if tools == nil {
		tools = NewRegistry()
	}
	return &Agent{
		completer:      completer,
		tools:          tools,
		sessions:       sessions,
		recursionLimit: recursionLimit,
	}
}

// Invoke appends query to the session and runs the loop until the model
// produces a text answer. An empty sessionID starts a new session.
//
// Every model call and every tool call counts as one step.
func (a *Agent) Invoke(ctx context.Context, sessionID, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	transcript, err := a.sessions.Load(ctx, sessionID)
	if err != nil {
		slog.Warn("session load failed, starting fresh", "stage", "agent", "session", sessionID, "error", err)
	}
	transcript = append(transcript, UserMessage{Text: query})

	response, transcript, err := a.run(ctx, transcript)
	if err != nil {
		return nil, err
	}

	if err := a.sessions.Save(ctx, sessionID, transcript); err != nil {
		slog.Warn("session save failed", "stage", "agent", "session", sessionID, "error", err)
	}
	return &Result{Response: response, SessionID: sessionID}, nil
}

func (a *Agent) run(ctx context.Context, transcript Transcript) (string, Transcript, error) {
	if a.completer == nil {
		transcript = append(transcript, AssistantTextMessage{Text: ApologyText})
		return ApologyText, transcript, nil
	}

	for steps := 0; steps < a.recursionLimit; {
		completion, err := a.completer.Complete(ctx, BuildPrompt(a.tools, transcript))
		steps++
		if err != nil {
			slog.Warn("agent completion failed", "stage", "agent", "error", err)
			transcript = append(transcript, AssistantTextMessage{Text: ApologyText})
			return ApologyText, transcript, nil
		}

		switch reply := ParseReply(completion, a.tools.Has).(type) {
		case TextReply:
			transcript = append(transcript, AssistantTextMessage{Text: reply.Text})
			return reply.Text, transcript, nil

		case ToolInvocation:
			if steps >= a.recursionLimit {
				return "", transcript, ErrRecursionLimit
			}
			call := AssistantToolCallMessage{CallID: "tool_" + uuid.New().String(), Name: reply.Name, Args: reply.Args}
			transcript = append(transcript, call, a.callTool(ctx, call))
			steps++

		case Malformed:
			slog.Debug("agent reply malformed", "stage", "agent", "reason", reply.Reason)
			transcript = append(transcript,
				AssistantTextMessage{Text: reply.Raw},
				ToolResultMessage{Content: ToolError(errors.New(reply.Reason))},
			)
		}
	}
	return "", transcript, ErrRecursionLimit
}

func (a *Agent) callTool(ctx context.Context, call AssistantToolCallMessage) ToolResultMessage {
	result := ToolResultMessage{CallID: call.CallID, Name: call.Name}

	tool, ok := a.tools.Get(call.Name)
	if !ok {
		result.Content = ToolError(fmt.Errorf("unknown tool %s", call.Name))
		return result
	}

	out, err := tool.Call(ctx, call.Args)
	if err != nil {
		slog.Info("agent tool failed", "stage", "agent", "tool", call.Name, "error", err)
		result.Content = ToolError(err)
		return result
	}
	result.Content = out
	return result
}

// BuildPrompt renders the instructions, the tool catalogue and the
// conversation so far.
func BuildPrompt(tools *Registry, transcript Transcript) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Your goal is to assist users by calling tools on their behalf.\n")
	b.WriteString("Based on the user's query and the conversation history, decide if a tool is needed.\n")
	b.WriteString("- If a tool is appropriate, respond with ONLY a single JSON object with two keys: 'name' and 'args'.\n")
	b.WriteString("  'name' must be one of the available tool names.\n")
	b.WriteString("  'args' must be an object containing the required parameters for that tool.\n")
	b.WriteString("- If the last message is a tool result, summarize it for the user in a clear and helpful way.\n")
	b.WriteString("- Otherwise respond in natural language.\n\n")
	b.WriteString("Available Tools:\n")
	b.WriteString(tools.Describe())
	b.WriteString("\nConversation History:\n")

	for _, m := range transcript {
		switch v := m.(type) {
		case UserMessage:
			fmt.Fprintf(&b, "User: %s\n", v.Text)
		case AssistantTextMessage:
			fmt.Fprintf(&b, "Assistant: %s\n", v.Text)
		case AssistantToolCallMessage:
			args, _ := json.Marshal(v.Args)
			fmt.Fprintf(&b, "Assistant tool call: %s %s\n", v.Name, args)
		case ToolResultMessage:
			fmt.Fprintf(&b, "Tool result (%s): %s\n", v.Name, v.Content)
		}
	}

	fmt.Fprintf(&b, "\nUser Query: %s\nResponse:", transcript.LastUserText())
	return b.String()
}
