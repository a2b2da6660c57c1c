package execution

import (
	"fmt"
	"strings"

	"github.com/ent0n29/clawboard/internal/store"
)

const maxDescriptionChars = 4000

// BuildPrompt renders the instruction sent to the provider for one run. Every
// mode asks for a JSON object so the reply can drive side effects, but the
// engine tolerates plain text too.
func BuildPrompt(mode Mode, task store.Task, checklist []store.ChecklistItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", strings.TrimSpace(task.Title))
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	if desc := strings.TrimSpace(task.Description); desc != "" {
		if cut, ok := Truncate(desc, maxDescriptionChars); ok {
			desc = cut + "..."
		}
		fmt.Fprintf(&b, "Description:\n%s\n", desc)
	}
	if len(checklist) > 0 {
		b.WriteString("Checklist:\n")
		for _, item := range checklist {
			fmt.Fprintf(&b, "- [%s] %s\n", item.State, item.Text)
		}
	}
	b.WriteString("\n")

	switch mode {
	case ModePlan:
		b.WriteString("Plan this task. Reply with a JSON object: " +
			`{"description": "<refined description>", "checklist": ["<step>", "..."]}` + "\n")
	case ModeExecute:
		b.WriteString("Carry out this task in your workspace. When finished, reply with a JSON object: " +
			`{"status": "review", "summary": "<what you did>"}` +
			`. Use "doing" instead of "review" if work remains.` + "\n")
	case ModeReport:
		b.WriteString("Report on the current state of this task. Reply with a JSON object: " +
			`{"summary": "<short report>", "blockers": ["<blocker>"]}` + "\n")
	}
	return b.String()
}

// Truncate shortens s to at most limit runes and reports whether it cut
// anything. It never splits a multi-byte character.
func Truncate(s string, limit int) (string, bool) {
	if limit < 0 {
		limit = 0
	}
	if len(s) <= limit {
		return s, false
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i], true
		}
		n++
	}
	return s, false
}
