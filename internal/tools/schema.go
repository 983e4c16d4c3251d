package tools

import (
	"encoding/json"
	"sort"
)

// Property describes one parameter of a tool schema.
type Property struct {
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Items       *Property `json:"items,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
}

// Schema builds an object schema of the form {"type":"object","properties":{...},"required":[...]}.
// Required names that are not in properties are dropped.
func Schema(properties map[string]Property, required ...string) json.RawMessage {
	if properties == nil {
		properties = map[string]Property{}
	}

	req := make([]string, 0, len(required))
	for _, name := range required {
		if _, ok := properties[name]; ok {
			req = append(req, name)
		}
	}
	sort.Strings(req)

	schema := struct {
		Type       string              `json:"type"`
		Properties map[string]Property `json:"properties"`
		Required   []string            `json:"required"`
	}{
		Type:       "object",
		Properties: properties,
		Required:   req,
	}

	// A map of plain structs always marshals.
	b, _ := json.Marshal(schema)
	return b
}
