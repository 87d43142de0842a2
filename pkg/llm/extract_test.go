package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"generic fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"leading prose", `Here is the query: {"a": 1}`, `{"a": 1}`},
		{"trailing prose", `{"a": 1} — hope that helps!`, `{"a": 1}`},
		{"nested braces", `{"a": {"b": [1, 2]}}`, `{"a": {"b": [1, 2]}}`},
		{"braces in strings", `{"a": "opening { only"}`, `{"a": "opening { only"}`},
		{"escaped quotes", `{"a": "say \"hi\" {"}`, `{"a": "say \"hi\" {"}`},
		{"prose braces before object", `use {caption} as a placeholder: {"a": 1}`, `{"a": 1}`},
		{"balanced but invalid skipped", `{not json} {"a": 1}`, `{"a": 1}`},
		{"fence with surrounding prose", "Sure!\n```json\nHere you go: {\"a\": 1}\n```\nDone.", `{"a": 1}`},
		{"no json", "there is nothing here", ""},
		{"prose braces only", "substitute {region} and {year}", ""},
		{"unbalanced", `{"a": 1`, ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.response))
		})
	}
}
