package timeline

// Status is the lifecycle of a tool call. Transitions are monotonic:
// streaming -> called -> completed, never backwards.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCalled    Status = "called"
	StatusCompleted Status = "completed"
)

func (s Status) rank() int {
	switch s {
	case StatusCalled:
		return 1
	case StatusCompleted:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of the two statuses. Setting "called" on a
// completed entry is a no-op that preserves "completed".
func (s Status) Advance(to Status) Status {
	if to.rank() > s.rank() {
		return to
	}
	return s
}

// PlaceholderName is assigned to entries created from deltas that never
// carried a tool name. The finalized-call resolver prefers these over
// named streaming entries.
const PlaceholderName = "unknown"

// ToolCallEntry is one tool invocation tracked within a turn. Key is the
// synthetic, turn-scoped correlation key; CallID is the provider's own
// identifier when it supplied one.
type ToolCallEntry struct {
	Key          string                 `json:"key"`
	Name         string                 `json:"name"`
	CallID       string                 `json:"call_id,omitempty"`
	CallType     string                 `json:"call_type,omitempty"`
	StreamedArgs string                 `json:"streamed_args,omitempty"`
	FinalArgs    map[string]interface{} `json:"final_args,omitempty"`
	Status       Status                 `json:"status"`

	ResultContent   string                   `json:"result_content,omitempty"`
	ResultArtifacts []map[string]interface{} `json:"result_artifacts,omitempty"`
	HasResult       bool                     `json:"has_result"`
}

// Registry is the turn's ordered list of tool calls. Order of first
// appearance matters, so it is a slice, not a map. All update operations
// replace entries wholesale rather than mutating fields in place.
type Registry []ToolCallEntry

// ByKey returns a copy of the entry with the given key.
func (r Registry) ByKey(key string) (ToolCallEntry, bool) {
	for _, e := range r {
		if e.Key == key {
			return e, true
		}
	}
	return ToolCallEntry{}, false
}

// FindByCallID returns the key of the entry whose provider call id matches.
func (r Registry) FindByCallID(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	for _, e := range r {
		if e.CallID == id {
			return e.Key, true
		}
	}
	return "", false
}

// FindFirst returns the key of the first entry (in appearance order)
// matching pred. This is the primitive behind the documented FIFO
// fallbacks; callers keep the priority chain in one place so it stays
// auditable.
func (r Registry) FindFirst(pred func(ToolCallEntry) bool) (string, bool) {
	for _, e := range r {
		if pred(e) {
			return e.Key, true
		}
	}
	return "", false
}

// UpsertByKey merges upd into the entry with the same key, or appends it
// when absent. Merging preserves previously known fields that upd omits,
// and the status transition is monotonic.
func (r Registry) UpsertByKey(upd ToolCallEntry) Registry {
	for i, e := range r {
		if e.Key == upd.Key {
			out := make(Registry, len(r))
			copy(out, r)
			out[i] = mergeEntry(e, upd)
			return out
		}
	}
	out := make(Registry, len(r)+1)
	copy(out, r)
	if upd.Status == "" {
		upd.Status = StatusStreaming
	}
	out[len(r)] = upd
	return out
}

// AttachResult sets the result fields on the keyed entry and advances it
// to completed. Unknown keys are a no-op.
func (r Registry) AttachResult(key, content string, artifacts []map[string]interface{}) Registry {
	for i, e := range r {
		if e.Key == key {
			out := make(Registry, len(r))
			copy(out, r)
			e.ResultContent = content
			e.ResultArtifacts = artifacts
			e.HasResult = true
			e.Status = e.Status.Advance(StatusCompleted)
			out[i] = e
			return out
		}
	}
	return r
}

func mergeEntry(old, upd ToolCallEntry) ToolCallEntry {
	out := old
	if upd.Name != "" && (out.Name == "" || out.Name == PlaceholderName) {
		out.Name = upd.Name
	}
	if upd.CallID != "" {
		out.CallID = upd.CallID
	}
	if upd.CallType != "" {
		out.CallType = upd.CallType
	}
	if upd.StreamedArgs != "" {
		out.StreamedArgs += upd.StreamedArgs
	}
	if upd.FinalArgs != nil {
		out.FinalArgs = upd.FinalArgs
	}
	if upd.HasResult {
		out.ResultContent = upd.ResultContent
		out.ResultArtifacts = upd.ResultArtifacts
		out.HasResult = true
	}
	if upd.Status != "" {
		out.Status = out.Status.Advance(upd.Status)
	}
	return out
}
