package timeline

// ReasoningTokens extracts a reasoning/thinking token count from a raw
// provider usage blob. Providers disagree on the field name, so the
// known spellings are tried in a fixed order; both the live tracker and
// the replay path use this same chain.
func ReasoningTokens(usage map[string]interface{}) int {
	if n, ok := intField(usage, "reasoning_tokens"); ok {
		return n
	}
	if n, ok := intField(usage, "thinking_tokens"); ok {
		return n
	}
	for _, nested := range []string{"output_tokens_details", "completion_tokens_details"} {
		if sub, ok := usage[nested].(map[string]interface{}); ok {
			if n, ok := intField(sub, "reasoning_tokens"); ok {
				return n
			}
		}
	}
	return 0
}

func intField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
