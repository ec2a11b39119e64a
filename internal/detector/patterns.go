package detector

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Pattern is one entry in the ordered prompt-pattern table. Patterns are
// tested in order against the last line of shell output; the first match
// wins. The table is heuristic and shell-dependent, so it is kept as data
// rather than code and can be extended from a YAML file.
type Pattern struct {
	Name   string `yaml:"name"`
	Regexp string `yaml:"regexp"`
}

// DefaultPatterns covers the prompt styles of common shells and interactive
// interpreters. More specific patterns come first; the generic
// sigil-at-end-of-line catch-alls come last.
var DefaultPatterns = []Pattern{
	{Name: "bracketed", Regexp: `^\[[^\]]+\][$#%>]\s*$`},
	{Name: "user-host", Regexp: `^[\w.-]+@[\w.-]+[:\s][^$#%>]*[$#%>]\s*$`},
	{Name: "powershell", Regexp: `^PS [^>]*>\s*$`},
	{Name: "windows-cmd", Regexp: `^[A-Za-z]:\\[^>]*>\s*$`},
	{Name: "python", Regexp: `^(>>>|\.\.\.)\s*$`},
	{Name: "irb", Regexp: `^irb\([^)]*\)[:\d]*[>*]\s*$`},
	{Name: "node", Regexp: `^>\s$`},
	{Name: "mysql", Regexp: `^(mysql|MariaDB \[[^\]]*\])>\s*$`},
	{Name: "psql", Regexp: `^[\w-]+=[#>]\s*$`},
	{Name: "unicode-arrow", Regexp: `[❯➜»→]\s*$`},
	{Name: "generic-root", Regexp: `#\s*$`},
	{Name: "generic-dollar", Regexp: `\$\s*$`},
	{Name: "generic-percent", Regexp: `%\s*$`},
	{Name: "generic-gt", Regexp: `>\s*$`},
}

// CompilePatterns compiles the table into ordered regexps, failing on the
// first invalid expression.
func CompilePatterns(patterns []Pattern) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regexp)
		if err != nil {
			return nil, fmt.Errorf("compile prompt pattern %q: %w", p.Name, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// LoadPatternsFile reads extra prompt patterns from a YAML file. The file
// holds a list of {name, regexp} entries; they are prepended to the defaults
// so operator-supplied patterns take precedence.
func LoadPatternsFile(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}
	var extra []Pattern
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}
	return append(extra, DefaultPatterns...), nil
}

// ansiEscape matches ANSI CSI/OSC escape sequences so prompt matching sees
// the text the user sees, not the color codes around it.
var ansiEscape = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(\x07|\x1b\\))`)

// stripANSI removes escape sequences and carriage returns from a line.
func stripANSI(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}
