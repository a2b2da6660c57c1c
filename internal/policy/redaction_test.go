package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Ping ops@clawboard.dev or +1 (555) 123-9876, card 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
}

func TestRedactSecrets(t *testing.T) {
	input := `upstream said: Authorization: Bearer gw_live_0123456789 rejected, api_key=sk-abcdefghijklmnopqrstu`
	out, changed := RedactSecrets(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, leak := range []string{"gw_live_0123456789", "sk-abcdefghijklmnopqrstu"} {
		if strings.Contains(out, leak) {
			t.Fatalf("output leaked %q: %q", leak, out)
		}
	}
	if !strings.HasPrefix(out, "upstream said: Authorization:") {
		t.Fatalf("output lost surrounding text: %q", out)
	}
}

func TestRedactSecretsLeavesPlainText(t *testing.T) {
	input := "agent builder is not enabled for board 42"
	out, changed := RedactSecrets(input)
	if changed || out != input {
		t.Fatalf("RedactSecrets(%q) = %q, %t, want unchanged", input, out, changed)
	}
}
