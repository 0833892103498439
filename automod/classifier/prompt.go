package classifier

import (
	"fmt"
	"strings"
)

const moderationRules = `You are a community moderator AI. Analyze the following user submission against these rules:
1. No hate speech or personal attacks.
2. No spam or self-promotion.
3. No NSFW content.
`

func BuildPrompt(p Payload, schema Schema) string {
	var b strings.Builder
	b.WriteString(moderationRules)
	switch p.Kind {
	case KindImage:
		fmt.Fprintf(&b, "The submission is an image, available at this URL: %s\n", p.Content)
	default:
		fmt.Fprintf(&b, "User Post: %q\n", p.Content)
	}
	switch schema {
	case SchemaSimple:
		b.WriteString(`Respond ONLY with a JSON object with two keys: "isViolation" (boolean) and "justification" (string).`)
	default:
		b.WriteString(`Respond ONLY with a JSON object with four keys: "isViolation" (boolean), "category" (short lowercase string, eg "harassment", "spam", "nsfw"; empty if no violation), "confidence" (number between 0 and 1) and "justification" (string).`)
	}
	b.WriteString("\n")
	return b.String()
}
