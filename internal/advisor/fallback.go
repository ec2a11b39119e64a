package advisor

import (
	"regexp"
	"strings"

	"github.com/shellpilot/shellpilot/internal/contextwin"
)

// fallbackRule maps the last executed command onto a likely follow-up.
// $1, $2... in next/alternatives refer to capture groups of match.
type fallbackRule struct {
	match        *regexp.Regexp
	next         string
	alternatives []string
	rationale    string
}

// fallbackRules is consulted in order when the reasoning service is
// unreachable, times out, or returns garbage. The table is deliberately
// small: it only needs to keep the suggestion surface alive, not be clever.
var fallbackRules = []fallbackRule{
	{
		match:     regexp.MustCompile(`^git\s+clone\s+\S*?([^/\s]+?)(?:\.git)?\s*$`),
		next:      "cd $1",
		rationale: "Enter the freshly cloned repository.",
	},
	{
		match:        regexp.MustCompile(`^git\s+status\b`),
		next:         "git add -A",
		alternatives: []string{"git diff"},
		rationale:    "Stage or inspect the reported changes.",
	},
	{
		match:        regexp.MustCompile(`^(ls|ll|dir)\b`),
		next:         "cd ",
		alternatives: []string{"cat "},
		rationale:    "Navigate into or inspect one of the listed entries.",
	},
	{
		match:        regexp.MustCompile(`^cd\b`),
		next:         "ls -la",
		rationale:    "List the contents of the new working directory.",
	},
	{
		match:     regexp.MustCompile(`^tar\s+(-?\w*x\w*\s+)\S*?([^/\s]+?)\.(tar\.gz|tgz|tar\.bz2|tar)\s*$`),
		next:      "cd $2",
		rationale: "Enter the extracted directory.",
	},
	{
		match:        regexp.MustCompile(`^docker\s+ps\b`),
		next:         "docker logs ",
		alternatives: []string{"docker exec -it "},
		rationale:    "Inspect one of the listed containers.",
	},
	{
		match:     regexp.MustCompile(`^(sudo\s+)?(apt|apt-get|yum|dnf)\s+install\b`),
		next:      "which ",
		rationale: "Confirm the installed binary is on PATH.",
	},
	{
		match:        regexp.MustCompile(`^(cat|less|head|tail)\s+(\S+)`),
		next:         "grep  $2",
		alternatives: []string{"vi $2"},
		rationale:    "Search or edit the file just viewed.",
	},
	{
		match:     regexp.MustCompile(`^grep\b`),
		next:      "wc -l",
		rationale: "Count the matches.",
	},
}

// defaultFallback is returned when no rule matches or the window is empty.
var defaultFallback = Suggestion{
	NextCommand:  "ls -la",
	Alternatives: []string{"pwd", "history"},
	Rationale:    "Survey the current directory.",
	Source:       SourceFallback,
}

// Fallback produces a deterministic suggestion from the last command in the
// window. It always succeeds.
func Fallback(win contextwin.Window) Suggestion {
	if len(win.Records) == 0 {
		return defaultFallback
	}

	last := strings.TrimSpace(win.Records[len(win.Records)-1].Command)
	for _, rule := range fallbackRules {
		m := rule.match.FindStringSubmatchIndex(last)
		if m == nil {
			continue
		}
		s := Suggestion{
			NextCommand: string(rule.match.ExpandString(nil, rule.next, last, m)),
			Rationale:   rule.rationale,
			Source:      SourceFallback,
		}
		for _, alt := range rule.alternatives {
			s.Alternatives = append(s.Alternatives, string(rule.match.ExpandString(nil, alt, last, m)))
		}
		return s
	}
	return defaultFallback
}
