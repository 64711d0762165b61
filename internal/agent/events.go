package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/spiritd/pkg/models"
)

// eventInstructions is appended to every formatted external event,
// regardless of how much metadata that event carries — it tells the model
// which tools are available to act on the event.
const eventInstructions = `[Instructions: You may use the memory_read and memory_write tools to recall or record information relevant to this event, and execute_code to run sandboxed code if the event requires it. Respond only if a response is warranted by the event's content.]`

// formatExternalEvent renders an ExternalEvent into the structured text
// the agent loop treats as a user message, per the external event
// formatting contract: a header line naming the source, one line per
// present metadata field, a blank line, the event's content, and a
// trailing instructions block.
func formatExternalEvent(event models.ExternalEvent) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[External Event: %s]\n", event.Source)

	handle, hasHandle := stringField(event.Metadata, "handle")
	did, hasDID := stringField(event.Metadata, "did")
	if hasHandle && hasDID {
		fmt.Fprintf(&sb, "From: @%s (%s)\n", handle, did)
	}
	if uri, ok := stringField(event.Metadata, "uri"); ok {
		fmt.Fprintf(&sb, "Post: %s\n", uri)
	}
	if cid, ok := stringField(event.Metadata, "cid"); ok {
		fmt.Fprintf(&sb, "CID: %s\n", cid)
	}

	if replyTo, ok := event.Metadata["reply_to"].(map[string]any); ok {
		if v, ok := stringField(replyTo, "parent_uri"); ok {
			fmt.Fprintf(&sb, "Parent URI: %s\n", v)
		}
		if v, ok := stringField(replyTo, "parent_cid"); ok {
			fmt.Fprintf(&sb, "Parent CID: %s\n", v)
		}
		if v, ok := stringField(replyTo, "root_uri"); ok {
			fmt.Fprintf(&sb, "Root URI: %s\n", v)
		}
		if v, ok := stringField(replyTo, "root_cid"); ok {
			fmt.Fprintf(&sb, "Root CID: %s\n", v)
		}
	}

	fmt.Fprintf(&sb, "Time: %s\n", event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"))
	sb.WriteString("\n")
	sb.WriteString(event.Content)
	sb.WriteString("\n\n")
	sb.WriteString(eventInstructions)

	return sb.String()
}

func stringField(metadata map[string]any, key string) (string, bool) {
	if metadata == nil {
		return "", false
	}
	v, ok := metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
