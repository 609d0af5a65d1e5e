// Package rowenc implements the text encodings used by persisted message
// rows. tool_call and tool_result rows carry a small line-oriented header
// grammar in front of their payload; meta rows carry a label line. The
// decoders must accept everything the encoders produce byte-for-byte, and
// degrade to opaque text on anything malformed instead of failing.
package rowenc

import (
	"encoding/json"
	"strings"

	"github.com/morganhq/relay/internal/timeline"
)

// Meta row labels with dedicated handling on replay.
const (
	MetaLabelUsage            = "usage"
	MetaLabelResponseMetadata = "response_metadata"
	MetaLabelReasoning        = "reasoning"
)

// ToolCallRow encodes a registry entry into the tool_call row grammar:
// header lines (name / call_type / id), a literal "args:" marker, then
// the pretty-printed JSON arguments, newline-terminated. Entries whose
// arguments never finalized fall back to the raw streamed-args text.
// The marker is omitted entirely when no arguments were captured.
func ToolCallRow(e timeline.ToolCallEntry) string {
	var b strings.Builder
	if e.Name != "" {
		b.WriteString("name: " + e.Name + "\n")
	}
	if e.CallType != "" {
		b.WriteString("call_type: " + e.CallType + "\n")
	}
	if e.CallID != "" {
		b.WriteString("id: " + e.CallID + "\n")
	}
	switch {
	case e.FinalArgs != nil:
		data, err := json.MarshalIndent(e.FinalArgs, "", "  ")
		if err == nil {
			b.WriteString("args:\n")
			b.Write(data)
			b.WriteByte('\n')
		}
	case e.StreamedArgs != "":
		b.WriteString("args:\n")
		b.WriteString(e.StreamedArgs)
		if !strings.HasSuffix(e.StreamedArgs, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ParseToolCallRow decodes a tool_call row body. The returned entry has
// no correlation key; the caller assigns one when merging into a turn.
// A body whose args fail to parse as JSON is kept as opaque streamed
// args rather than rejected, and so is any content that breaks the
// header grammar: nothing is dropped.
func ParseToolCallRow(content string) timeline.ToolCallEntry {
	e := timeline.ToolCallEntry{Status: timeline.StatusStreaming}
	rest := content
	for rest != "" {
		line, remainder, _ := strings.Cut(rest, "\n")
		if line == "args:" {
			decodeArgs(&e, remainder)
			return e
		}
		if v, ok := strings.CutPrefix(line, "name: "); ok {
			e.Name = v
		} else if v, ok := strings.CutPrefix(line, "call_type: "); ok {
			e.CallType = v
		} else if v, ok := strings.CutPrefix(line, "id: "); ok {
			e.CallID = v
		} else {
			e.StreamedArgs = strings.TrimSuffix(rest, "\n")
			break
		}
		rest = remainder
	}
	return e
}

func decodeArgs(e *timeline.ToolCallEntry, body string) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(body), &args); err == nil && args != nil {
		e.FinalArgs = args
		e.Status = timeline.StatusCalled
		return
	}
	e.StreamedArgs = strings.TrimSuffix(body, "\n")
}

// ToolResultRow encodes a result: an optional tool_call_id header line
// followed by the literal result content.
func ToolResultRow(callID, content string) string {
	if callID == "" {
		return content
	}
	return "tool_call_id: " + callID + "\n" + content
}

// ParseToolResultRow splits a tool_result row into its optional call id
// and the literal result body.
func ParseToolResultRow(content string) (callID, body string) {
	line, remainder, _ := strings.Cut(content, "\n")
	if v, ok := strings.CutPrefix(line, "tool_call_id: "); ok {
		return v, remainder
	}
	return "", content
}

// MetaRow encodes a labelled payload: the label line followed by the
// JSON-serialized payload.
func MetaRow(label string, payload interface{}) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return label + "\n"
	}
	return label + "\n" + string(data)
}

// ParseMetaRow splits a meta row into its label and raw body. The body
// may or may not be JSON; callers fall back to plain text when it isn't.
func ParseMetaRow(content string) (label, body string) {
	label, body, _ = strings.Cut(content, "\n")
	return label, body
}
