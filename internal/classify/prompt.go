package classify

import (
	"fmt"
	"strings"

	"github.com/triagebot/pkg/models"
)

// buildPrompt assembles the classification prompt for one message. The
// response contract mirrors parseResponse: a single JSON object, no prose.
func buildPrompt(msg models.IncomingMessage, mctx models.MessageContext, threshold float64) string {
	var sb strings.Builder

	sb.WriteString("Analyze the following Slack message and determine if it describes a bug report, ")
	sb.WriteString("task request, or issue that should be tracked in the issue tracker.\n\n")

	if mctx.ChannelName != "" {
		sb.WriteString(fmt.Sprintf("Channel: #%s\n", mctx.ChannelName))
	}
	if mctx.AuthorName != "" {
		sb.WriteString(fmt.Sprintf("Author: %s\n", mctx.AuthorName))
	}
	if mctx.ThreadParent != "" {
		sb.WriteString(fmt.Sprintf("In reply to: %q\n", mctx.ThreadParent))
	}
	sb.WriteString(fmt.Sprintf("\nMessage: %q\n\n", msg.Text))

	mode := mctx.DetectionMode
	guidance := "strict and only flag clear bug reports or task requests"
	if mode == "liberal" {
		guidance = "generous and flag anything that might need tracking"
	}
	sb.WriteString(fmt.Sprintf("Detection mode: %s (be %s)\n\n", mode, guidance))

	sb.WriteString("Respond with a JSON object containing:\n")
	sb.WriteString("{\n")
	sb.WriteString("    \"actionable\": true/false,\n")
	sb.WriteString("    \"confidence\": 0.0-1.0,\n")
	sb.WriteString("    \"issue_type\": \"Bug\" | \"Task\" | \"Story\" | \"Improvement\",\n")
	sb.WriteString("    \"priority\": \"Highest\" | \"High\" | \"Medium\" | \"Low\" | \"Lowest\",\n")
	sb.WriteString("    \"summary\": \"Brief one-line summary (max 100 chars)\",\n")
	sb.WriteString("    \"description\": \"Detailed description extracted from the message\",\n")
	sb.WriteString("    \"rationale\": \"Brief explanation of your decision\"\n")
	sb.WriteString("}\n\n")

	sb.WriteString("Guidelines:\n")
	sb.WriteString("- For bugs: look for error messages, unexpected behavior, crashes, or things not working\n")
	sb.WriteString("- For tasks: look for requests to implement features, make changes, or do work\n")
	sb.WriteString("- For improvements: look for suggestions to enhance existing functionality\n")
	sb.WriteString("- Summary should be concise and actionable\n")
	sb.WriteString("- Set appropriate priority based on urgency indicators in the message\n")
	sb.WriteString(fmt.Sprintf("- Confidence threshold is %.2f - only mark actionable if confidence is above this\n\n", threshold))

	sb.WriteString("Respond with ONLY the JSON object, no other text.")

	return sb.String()
}
