package message

import (
	"fmt"
	"strings"
	"time"
)

// RenderForAgent produces the deterministic XML-like block appended to an
// agent's history when it receives env. The rendering is stable: identical
// envelopes (including ID and Timestamp) always render byte-identical
// output, so replays reproduce prompts exactly (spec.md §4.1, round-trip
// law "render_for_agent ∘ construct is deterministic").
//
// recipient is the specific address this rendering is being produced for
// (relevant for multi-recipient kinds fanned out to "all": each recipient
// sees itself as the "to" field, not the literal reserved name).
func RenderForAgent(env *Envelope, recipient Address) string {
	var b strings.Builder
	b.WriteString("<mail_message>\n")
	fmt.Fprintf(&b, "  <timestamp>%s</timestamp>\n", env.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "  <from kind=%q>%s</from>\n", env.Sender.Kind, env.Sender.Name)
	fmt.Fprintf(&b, "  <to kind=%q>%s</to>\n", recipient.Kind, recipient.Name)
	fmt.Fprintf(&b, "  <subject>%s</subject>\n", escape(env.Subject))
	fmt.Fprintf(&b, "  <body>%s</body>\n", escape(env.Body))
	b.WriteString("</mail_message>")
	return b.String()
}

// escape neutralizes the handful of characters that would otherwise break
// the XML-like block; this is not a full XML escaper since MAIL renders a
// fixed, known field set rather than arbitrary markup.
func escape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}

// IsSystemSubject reports whether subject is wrapped in the double-colon
// markers used for system subjects (such as ::tool_call_error::). Any
// "::...::" subject matches, not only the Subject* constants.
func IsSystemSubject(subject string) bool {
	return strings.HasPrefix(subject, "::") && strings.HasSuffix(subject, "::")
}
