package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepairArguments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"valid", `{"a":1}`, `{"a":1}`},
		{"empty", ``, `{}`},
		{"whitespace", "  \n", `{}`},
		{"cut inside string", `{"term":"running sho`, `{"term":"running sho"}`},
		{"missing brace", `{"a":1`, `{"a":1}`},
		{"garbage", `not json`, `{}`},
		{"array is not an object", `[1,2]`, `{}`},
		{"too broken", `{"a":[1,`, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.JSONEq(t, tt.want, string(RepairArguments(tt.raw)))
		})
	}
}
