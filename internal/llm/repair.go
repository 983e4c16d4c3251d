package llm

import (
	"bytes"
	"encoding/json"

	"github.com/chenapple/thesaurus-management/pkg/log"
)

var emptyArguments = json.RawMessage(`{}`)

// RepairArguments turns a possibly truncated tool-argument payload into a JSON object.
// Cut-off payloads usually stop inside a string value or right before the closing brace,
// so a closing quote plus brace is tried first, then a lone brace. Anything else becomes {}.
func RepairArguments(raw string) json.RawMessage {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return emptyArguments
	}

	for _, candidate := range [][]byte{
		trimmed,
		append(append([]byte{}, trimmed...), '"', '}'),
		append(append([]byte{}, trimmed...), '}'),
	} {
		if isJSONObject(candidate) {
			return json.RawMessage(candidate)
		}
	}

	log.Warn("Discarding unparseable tool arguments: %q", truncateForLog(raw, 200))
	return emptyArguments
}

func isJSONObject(b []byte) bool {
	if len(b) == 0 || b[0] != '{' {
		return false
	}
	var obj map[string]any
	return json.Unmarshal(b, &obj) == nil
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
