package policy

import "regexp"

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: card numbers must be masked before the phone rule sees
// their digit runs.
var (
	secretRules = []redactionRule{
		{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=\-]{6,}`), "Bearer [REDACTED]"},
		{regexp.MustCompile(`(?i)(authorization|x-openclaw-token|api[_-]?key)(\s*[:=]\s*)\S+`), "$1$2[REDACTED]"},
		{regexp.MustCompile(`\b(?:sk|pk|oc)-[A-Za-z0-9_\-]{16,}\b`), "[REDACTED_KEY]"},
	}
	piiRules = []redactionRule{
		{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
		{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
		{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
	}
)

// RedactSecrets masks credentials that gateways tend to echo back in error
// bodies: bearer tokens, authorization headers and API keys.
func RedactSecrets(input string) (redacted string, changed bool) {
	return apply(input, secretRules)
}

// RedactPII masks credentials plus emails, card numbers and phone numbers.
// It is meant for free text such as prompts and model output; identifiers
// with long digit runs would be mangled.
func RedactPII(input string) (redacted string, changed bool) {
	out, changed := apply(input, secretRules)
	out, piiChanged := apply(out, piiRules)
	return out, changed || piiChanged
}

func apply(input string, rules []redactionRule) (string, bool) {
	out := input
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, r.replacement)
	}
	return out, out != input
}
