package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nyasuto/hive/internal/store"
)

// WirePayload renders the delimited block a bee's interactive session sees.
// The markup is fixed: the hosted LLMs are prompted against this exact shape
// and parse the leading fence to recognize structured input.
func WirePayload(msg *store.Message) string {
	subject := msg.Subject
	if subject == "" {
		subject = "(none)"
	}
	taskRef := "N/A"
	if msg.TaskID != nil && *msg.TaskID != "" {
		taskRef = *msg.TaskID
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## 📨 MESSAGE FROM %s\n\n", strings.ToUpper(msg.FromBee))
	fmt.Fprintf(&sb, "**Type:** %s\n", msg.Type)
	fmt.Fprintf(&sb, "**Subject:** %s\n", subject)
	fmt.Fprintf(&sb, "**Task ID:** %s\n", taskRef)
	fmt.Fprintf(&sb, "**Timestamp:** %s\n\n", msg.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Content:**\n%s\n\n---", msg.Content)
	return sb.String()
}
