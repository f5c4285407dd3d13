// ABOUTME: Tests for RenderSpeech covering each message kind and ordering
// ABOUTME: Also checks unknown kinds are skipped and output is trimmed

package almond

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSpeech(t *testing.T) {
	tests := []struct {
		name     string
		messages []Message
		want     string
	}{
		{
			name:     "empty",
			messages: nil,
			want:     "",
		},
		{
			name:     "single text",
			messages: []Message{{Type: MessageText, Text: "Hi"}},
			want:     "Hi",
		},
		{
			name: "text then picture",
			messages: []Message{
				{Type: MessageText, Text: "A"},
				{Type: MessagePicture, URL: "http://x/y.png"},
			},
			want: "A\n Picture: http://x/y.png",
		},
		{
			name: "rdl",
			messages: []Message{
				{Type: MessageRDL, RDL: &RDL{DisplayTitle: "Site", WebCallback: "http://site"}},
			},
			want: "Link: Site http://site",
		},
		{
			name:     "choice",
			messages: []Message{{Type: MessageChoice, Title: "Yes"}},
			want:     "Choice: Yes",
		},
		{
			name: "unknown kinds are skipped",
			messages: []Message{
				{Type: "button", Title: "ignored"},
				{Type: MessageText, Text: "kept"},
				{Type: "new-device"},
			},
			want: "kept",
		},
		{
			name: "order is preserved",
			messages: []Message{
				{Type: MessageChoice, Title: "No"},
				{Type: MessageText, Text: "middle"},
				{Type: MessageChoice, Title: "Yes"},
			},
			want: "Choice: No\nmiddle\n Choice: Yes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderSpeech(tt.messages))
		})
	}
}

func TestRenderSpeech_DecodedMessages(t *testing.T) {
	raw := `[
		{"type":"text","text":"Here is a cat"},
		{"type":"picture","url":"http://cats/1.jpg"},
		{"type":"rdl","rdl":{"displayTitle":"Cats","webCallback":"http://cats"}},
		{"type":"choice","idx":0,"title":"More"},
		{"type":"command","command":"\\stop"}
	]`

	var messages []Message
	require.NoError(t, json.Unmarshal([]byte(raw), &messages))
	require.Len(t, messages, 5)
	assert.JSONEq(t, `{"type":"command","command":"\\stop"}`, string(messages[4].Raw))

	want := "Here is a cat\n Picture: http://cats/1.jpg\n Link: Cats http://cats\n Choice: More"
	assert.Equal(t, want, RenderSpeech(messages))
}

func TestRenderSpeech_RDLWithoutPayload(t *testing.T) {
	got := RenderSpeech([]Message{{Type: MessageRDL}})
	assert.Equal(t, "Link:", got)
}
