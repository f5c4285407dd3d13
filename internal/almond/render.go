// ABOUTME: Renders an Almond message list into a single speech string
// ABOUTME: Pure function: one line per known message kind, unknown kinds skipped

package almond

import "strings"

// RenderSpeech joins the messages in order into one speech string. Each known
// message contributes a line; unknown kinds contribute nothing. The result is
// trimmed of outer whitespace.
func RenderSpeech(messages []Message) string {
	var buf strings.Builder
	for _, m := range messages {
		switch m.Type {
		case MessageText:
			buf.WriteString("\n")
			buf.WriteString(m.Text)
		case MessagePicture:
			buf.WriteString("\n Picture: ")
			buf.WriteString(m.URL)
		case MessageRDL:
			// A missing rdl object renders an empty link rather than dropping the reply
			var title, callback string
			if m.RDL != nil {
				title, callback = m.RDL.DisplayTitle, m.RDL.WebCallback
			}
			buf.WriteString("\n Link: ")
			buf.WriteString(title)
			buf.WriteString(" ")
			buf.WriteString(callback)
		case MessageChoice:
			buf.WriteString("\n Choice: ")
			buf.WriteString(m.Title)
		}
	}
	return strings.TrimSpace(buf.String())
}
