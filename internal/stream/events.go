// Package stream turns the loosely-correlated wire events emitted while an
// assistant composes a reply into timeline mutations. The Tracker is the
// live-path counterpart of the replay package: both must converge on the
// same timeline shape for the same logical conversation.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event is one decoded wire event. The concrete types below mirror the
// protocol's discriminated union.
type Event interface {
	eventType() string
}

// TextDelta carries a fragment of the assistant's visible reply.
type TextDelta struct {
	Content string
}

// ReasoningDelta carries a fragment of the assistant's reasoning trace.
type ReasoningDelta struct {
	Content string
}

// ToolCallDelta is a streamed fragment of a tool invocation. Providers may
// omit any of the identifying fields, so correlation is best-effort.
type ToolCallDelta struct {
	Index *int
	ID    string
	Name  string
	Args  string
}

// ToolCall is a finalized tool invocation with fully-parsed arguments.
type ToolCall struct {
	ID       string
	Name     string
	CallType string
	Args     map[string]interface{}
}

// ToolResult carries the outcome of an executed tool call.
type ToolResult struct {
	ToolCallID string
	Content    string
	Artifacts  []map[string]interface{}
}

// SandboxStatus is a progress update for a sandboxed run. Repeated events
// with the same RunID replace one note block in place.
type SandboxStatus struct {
	RunID   string
	Stage   string
	Message string
}

// ConversationAssigned reports the server-side id for a conversation that
// had not been persisted when streaming began.
type ConversationAssigned struct {
	ConversationID string
}

// Final ends the turn, carrying the complete output text and optional
// provider usage / response metadata blobs.
type Final struct {
	OutputText       string
	Usage            map[string]interface{}
	ResponseMetadata map[string]interface{}
}

func (TextDelta) eventType() string            { return "text_delta" }
func (ReasoningDelta) eventType() string       { return "reasoning_delta" }
func (ToolCallDelta) eventType() string        { return "tool_call_delta" }
func (ToolCall) eventType() string             { return "tool_call" }
func (ToolResult) eventType() string           { return "tool_result" }
func (SandboxStatus) eventType() string        { return "sandbox_status" }
func (ConversationAssigned) eventType() string { return "conversation" }
func (Final) eventType() string                { return "final" }

var errUnknownEvent = errors.New("unknown event type")

type envelope struct {
	Type           string          `json:"type"`
	Content        json.RawMessage `json:"content"`
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Args           json.RawMessage `json:"args"`
	Index          *int            `json:"index"`
	CallType       string          `json:"call_type"`
	ToolCallID     string          `json:"tool_call_id"`
	Artifacts      json.RawMessage `json:"artifacts"`
	RunID          string          `json:"run_id"`
	Stage          string          `json:"stage"`
	Message        string          `json:"message"`
	ConversationID string          `json:"conversation_id"`
	OutputText     *string         `json:"output_text"`
	Usage          json.RawMessage `json:"usage"`
	Metadata       json.RawMessage `json:"response_metadata"`
}

// Decode parses one wire event. A non-nil error means the payload failed
// schema validation; callers drop such events silently (transport noise
// tolerance), so the error exists only for logging.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch env.Type {
	case "text_delta":
		content, err := decodeString(env.Content)
		if err != nil {
			return nil, err
		}
		return TextDelta{Content: content}, nil

	case "reasoning_delta":
		content, err := decodeString(env.Content)
		if err != nil {
			return nil, err
		}
		return ReasoningDelta{Content: content}, nil

	case "tool_call_delta":
		ev := ToolCallDelta{Index: env.Index, ID: env.ID, Name: env.Name}
		if len(env.Args) > 0 {
			args, err := decodeString(env.Args)
			if err != nil {
				return nil, err
			}
			ev.Args = args
		}
		return ev, nil

	case "tool_call":
		var args map[string]interface{}
		if err := json.Unmarshal(env.Args, &args); err != nil || args == nil {
			return nil, fmt.Errorf("tool_call args must be an object")
		}
		return ToolCall{ID: env.ID, Name: env.Name, CallType: env.CallType, Args: args}, nil

	case "tool_result":
		content, err := decodeString(env.Content)
		if err != nil {
			return nil, err
		}
		ev := ToolResult{ToolCallID: env.ToolCallID, Content: content}
		if len(env.Artifacts) > 0 {
			// Bad artifact payloads drop the artifacts, not the result.
			_ = json.Unmarshal(env.Artifacts, &ev.Artifacts)
		}
		return ev, nil

	case "sandbox_status":
		if env.RunID == "" {
			return nil, fmt.Errorf("sandbox_status missing run_id")
		}
		return SandboxStatus{RunID: env.RunID, Stage: env.Stage, Message: env.Message}, nil

	case "conversation":
		if env.ConversationID == "" {
			return nil, fmt.Errorf("conversation missing conversation_id")
		}
		return ConversationAssigned{ConversationID: env.ConversationID}, nil

	case "final":
		ev := Final{}
		if env.OutputText != nil {
			ev.OutputText = *env.OutputText
		}
		if len(env.Usage) > 0 {
			_ = json.Unmarshal(env.Usage, &ev.Usage)
		}
		if len(env.Metadata) > 0 {
			_ = json.Unmarshal(env.Metadata, &ev.ResponseMetadata)
		}
		return ev, nil
	}

	return nil, fmt.Errorf("%w: %q", errUnknownEvent, env.Type)
}

func decodeString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("expected string field: %w", err)
	}
	return s, nil
}
