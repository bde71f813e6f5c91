package sandbox

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Template is a command line with {name} placeholders, split with shell
// quoting rules.
type Template struct {
	raw    string
	tokens []string
}

// ParseTemplate splits s into argv tokens.
func ParseTemplate(s string) (Template, error) {
	tokens, err := shlex.Split(s)
	if err != nil {
		return Template{}, fmt.Errorf("invalid command template %q: %w", s, err)
	}
	if len(tokens) == 0 {
		return Template{}, fmt.Errorf("empty command template")
	}
	return Template{raw: s, tokens: tokens}, nil
}

// String returns the template as configured.
func (t Template) String() string {
	return t.raw
}

// Expand substitutes placeholders. A token that is exactly {name} expands to
// one argument per value; a placeholder embedded in a longer token is
// replaced by the values joined with spaces. Unknown placeholders are kept.
func (t Template) Expand(vars map[string][]string) []string {
	argv := make([]string, 0, len(t.tokens))
	for _, tok := range t.tokens {
		if strings.HasPrefix(tok, "{") && strings.HasSuffix(tok, "}") {
			if values, ok := vars[tok[1:len(tok)-1]]; ok {
				argv = append(argv, values...)
				continue
			}
		}
		for name, values := range vars {
			tok = strings.ReplaceAll(tok, "{"+name+"}", strings.Join(values, " "))
		}
		argv = append(argv, tok)
	}
	return argv
}
