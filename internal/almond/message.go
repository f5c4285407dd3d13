// ABOUTME: Message types returned by the Almond converse endpoint
// ABOUTME: A tagged variant keyed by "type"; unknown kinds decode and keep their raw JSON

package almond

import "encoding/json"

// MessageType is the discriminator of a Message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessagePicture MessageType = "picture"
	MessageRDL     MessageType = "rdl"
	MessageChoice  MessageType = "choice"
)

// RDL is a rich link: a title and the URL it points to.
type RDL struct {
	DisplayTitle string `json:"displayTitle"`
	WebCallback  string `json:"webCallback"`
}

// Message is one entry of a converse reply. Which fields are set depends on Type.
type Message struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text,omitempty"`  // text
	URL   string      `json:"url,omitempty"`   // picture
	RDL   *RDL        `json:"rdl,omitempty"`   // rdl
	Title string      `json:"title,omitempty"` // choice

	// Raw is the message as received, kept for kinds this package does not model.
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps a copy of the raw message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// ConverseResponse is the decoded reply of /me/api/converse.
type ConverseResponse struct {
	Messages       []Message `json:"messages"`
	ConversationID string    `json:"conversationId,omitempty"`
	AskSpecial     string    `json:"askSpecial,omitempty"`
}

// command is the payload of a converse request.
type command struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

type converseRequest struct {
	Command        command `json:"command"`
	ConversationID string  `json:"conversationId,omitempty"`
}
