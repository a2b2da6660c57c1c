package policy

import (
	"regexp"
	"strings"
)

type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskHigh    RiskLevel = "high"
	RiskBlocked RiskLevel = "blocked"
)

// Decision is the outcome of classifying a task before an unattended run.
type Decision struct {
	Risk             RiskLevel
	RequiresApproval bool
	Reason           string
}

var (
	blockedTaskPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
		regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
		regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
	}
	highRiskWords = regexp.MustCompile(`(?i)\b(delete|drop|truncate|wipe|destroy|shutdown|reboot|chmod|chown|sudo|deploy|release|publish|migrate|force[- ]push|rotate (?:keys|secrets))\b`)
)

// ClassifyTask decides whether a task may be executed without a human in
// the loop. Blocked and high-risk tasks require an approval first.
func ClassifyTask(title, description string) Decision {
	text := strings.TrimSpace(title + "\n" + description)
	if text == "" {
		return Decision{Risk: RiskLow}
	}
	for _, re := range blockedTaskPatterns {
		if re.MatchString(text) {
			return Decision{
				Risk:             RiskBlocked,
				RequiresApproval: true,
				Reason:           "task appears to include destructive or secret-exfiltration behavior",
			}
		}
	}
	if m := highRiskWords.FindString(text); m != "" {
		return Decision{
			Risk:             RiskHigh,
			RequiresApproval: true,
			Reason:           "task mentions " + strings.ToLower(m),
		}
	}
	return Decision{Risk: RiskLow}
}
