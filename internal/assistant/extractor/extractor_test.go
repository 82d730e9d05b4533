package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantKind   Kind
		wantText   string
		wantEntity string
		wantRaw    string
	}{
		{
			name:     "plain greeting",
			raw:      "Hello! How can I help you manage Gravity Hostel today?",
			wantKind: KindText,
			wantText: "Hello! How can I help you manage Gravity Hostel today?",
		},
		{
			name:     "text keeps surrounding whitespace",
			raw:      "  Sure.\n",
			wantKind: KindText,
			wantText: "  Sure.\n",
		},
		{
			name:       "bare object",
			raw:        `{"entityName":"Room","operation":"count","filter":{"status":"available"}}`,
			wantKind:   KindCommand,
			wantEntity: "Room",
		},
		{
			name:       "fenced object with prose",
			raw:        "Here you go:\n```json\n{\"collection\":\"Fee\",\"operation\":\"find\",\"query\":{}}\n```\nDone.",
			wantKind:   KindCommand,
			wantEntity: "",
		},
		{
			name:     "unterminated object",
			raw:      `{"entityName":"Room","operation":"count"`,
			wantKind: KindText,
			wantText: `{"entityName":"Room","operation":"count"`,
		},
		{
			name:     "trailing comma",
			raw:      `{"entityName":"Room","operation":"count",}`,
			wantKind: KindParseError,
			wantRaw:  `{"entityName":"Room","operation":"count",}`,
		},
		{
			name:       "two objects, first decodes",
			raw:        `{"entityName":"Room","operation":"count"} and also {"note":"x"}`,
			wantKind:   KindCommand,
			wantEntity: "Room",
			wantRaw:    `{"entityName":"Room","operation":"count"}`,
		},
		{
			name:       "brace inside a string value",
			raw:        `Result: {"entityName":"Complaint","operation":"find","filter":{"title":{"$regex":"door }"}}} thanks}`,
			wantKind:   KindCommand,
			wantEntity: "Complaint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.raw)
			assert.Equal(t, tt.wantKind, got.Kind, "kind %s", got.Kind)
			switch tt.wantKind {
			case KindText:
				assert.Equal(t, tt.wantText, got.Text)
			case KindCommand:
				assert.NotNil(t, got.Object)
				if tt.wantEntity != "" {
					assert.Equal(t, tt.wantEntity, got.Object["entityName"])
				}
			case KindParseError:
				assert.NotEmpty(t, got.Error)
			}
			if tt.wantRaw != "" {
				assert.Equal(t, tt.wantRaw, got.Raw)
			}
		})
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"fenced block", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"untagged block", "```\nAll good.\n```", "All good."},
		{"fences on one line", "```json {\"a\":1} ```", `{"a":1}`},
		{"indented fence lines", "Here:\n  ```json\n{\"a\":1}\n  ```\nDone.", "Here:\n\n{\"a\":1}\n\nDone."},
		{"backticks inside a value survive", `{"note":"run ` + "```ls```" + ` first"}`, `{"note":"run ` + "```ls```" + ` first"}`},
		{"plain text", "  plain  ", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestExtract_KeepsBackticksInValues(t *testing.T) {
	raw := "```json\n" + `{"entityName":"Notification","operation":"updateOne","filter":{"_id":"n1"},"update":{"$set":{"message":"Use ` + "```code```" + ` blocks"}}}` + "\n```"

	got := Extract(raw)
	require.Equal(t, KindCommand, got.Kind)
	set := got.Object["update"].(map[string]interface{})["$set"].(map[string]interface{})
	assert.Equal(t, "Use ```code``` blocks", set["message"])
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "text", KindText.String())
	assert.Equal(t, "command", KindCommand.String())
	assert.Equal(t, "parse_error", KindParseError.String())
}
