package engine

import "strings"

// renderChatML flattens messages into a ChatML prompt ending with an open
// assistant turn. Used by backends that take a raw prompt.
func renderChatML(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString("<|im_start|>")
		b.WriteString(string(m.Role))
		b.WriteByte('\n')
		b.WriteString(m.Content)
		b.WriteString("<|im_end|>\n")
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

// chatMLStop are the stop words that close a ChatML assistant turn.
var chatMLStop = []string{"<|im_end|>", "<|im_start|>"}
