package runner

import (
	"regexp"
	"strings"
)

// Command templates use {name} placeholders over a closed set per command
// kind. An unknown placeholder is a ConfigError rather than a string left
// half-substituted in a launched process.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// renderCommand substitutes vars into tpl and rejects any placeholder the
// caller did not provide.
func renderCommand(kind, tpl string, vars map[string]string) (string, error) {
	for _, m := range placeholderPattern.FindAllStringSubmatch(tpl, -1) {
		if _, ok := vars[m[1]]; !ok {
			return "", configErrorf("unknown placeholder {%s} in %s command template", m[1], kind)
		}
	}
	pairs := make([]string, 0, 2*len(vars))
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(tpl), nil
}
