package resolve

import (
	"regexp"
	"strings"
)

// Suffix rules, tried in order. Each strips one generated suffix.
var suffixRules = []*regexp.Regexp{
	// <name>-<unix_ts>-<8 hex>: generated container names
	regexp.MustCompile(`^(.+)-\d+-[0-9a-f]{8}$`),
	// <name>_<index>: scale instance or task index
	regexp.MustCompile(`^(.+)_\d+$`),
	// <name>-<unix_ts>: nine or more digits, so app-2 keeps its digits
	regexp.MustCompile(`^(.+)-\d{9,}$`),
}

// ExtractName recovers the logical project name from a generated container name.
// Rules are applied until none match, so ExtractName(ExtractName(x)) == ExtractName(x).
func ExtractName(name string) string {
	current := strings.TrimSpace(name)
	for {
		next := stripSuffix(current)
		if next == current {
			return current
		}
		current = next
	}
}

func stripSuffix(name string) string {
	for _, rule := range suffixRules {
		if m := rule.FindStringSubmatch(name); m != nil && m[1] != "" {
			return m[1]
		}
	}
	return name
}
