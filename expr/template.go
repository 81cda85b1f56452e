package expr

import (
	"fmt"
	"strings"

	"github.com/c360/routeflow/errors"
	"github.com/c360/routeflow/message"
)

// Placeholder is one {{...}} occurrence in a template string.
type Placeholder struct {
	Name       string
	Required   bool   // {{name|required}}
	HasDefault bool   // {{name|default('x')}}
	Default    string // the default value, when HasDefault
}

// Expand replaces every {{...}} occurrence in s using resolve. Strings
// without placeholders are returned unchanged, so expansion is idempotent
// over already-expanded input.
func Expand(s string, resolve func(Placeholder) (string, error)) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}

	var sb strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}

		sb.WriteString(rest[:start])
		ph, err := parsePlaceholder(rest[start+2 : start+end])
		if err != nil {
			return "", err
		}
		value, err := resolve(ph)
		if err != nil {
			return "", err
		}
		sb.WriteString(value)
		rest = rest[start+end+2:]
	}
}

// parsePlaceholder splits "name", "name|required", or "name|default('x')".
func parsePlaceholder(inner string) (Placeholder, error) {
	inner = strings.TrimSpace(inner)
	name, filter, hasFilter := strings.Cut(inner, "|")
	ph := Placeholder{Name: strings.TrimSpace(name)}
	if ph.Name == "" {
		return ph, fmt.Errorf("empty placeholder name")
	}
	if !hasFilter {
		return ph, nil
	}

	filter = strings.TrimSpace(filter)
	switch {
	case filter == "required":
		ph.Required = true
	case strings.HasPrefix(filter, "default(") && strings.HasSuffix(filter, ")"):
		arg := strings.TrimSuffix(strings.TrimPrefix(filter, "default("), ")")
		arg = strings.TrimSpace(arg)
		if len(arg) >= 2 && (arg[0] == '\'' || arg[0] == '"') && arg[len(arg)-1] == arg[0] {
			arg = arg[1 : len(arg)-1]
		}
		ph.HasDefault = true
		ph.Default = arg
	default:
		return ph, fmt.Errorf("unknown placeholder filter %q", filter)
	}
	return ph, nil
}

// RenderTemplate renders a template against message fields. Missing
// variables render as the empty string unless marked |required, which is a
// processing error. default('x') filters apply when the variable is absent.
func RenderTemplate(template string, msg *message.Message) (string, error) {
	out, err := Expand(template, func(ph Placeholder) (string, error) {
		v, ok := msg.Get(ph.Name)
		if !ok {
			switch {
			case ph.HasDefault:
				return ph.Default, nil
			case ph.Required:
				return "", fmt.Errorf("%w: %q", errors.ErrRequiredVar, ph.Name)
			default:
				return "", nil
			}
		}
		return message.Stringify(v), nil
	})
	if err != nil {
		return "", errors.WrapProcessing(err, "expr", "RenderTemplate", "render template")
	}
	return out, nil
}

// ExpandEnv expands environment placeholders against a snapshot. A
// placeholder with no value and no default is a config error.
func ExpandEnv(s string, env map[string]string) (string, error) {
	out, err := Expand(s, func(ph Placeholder) (string, error) {
		if v, ok := env[ph.Name]; ok {
			return v, nil
		}
		if ph.HasDefault {
			return ph.Default, nil
		}
		return "", fmt.Errorf("%w: %q", errors.ErrMissingVariable, ph.Name)
	})
	if err != nil {
		return "", errors.WrapConfig(err, "expr", "ExpandEnv", "expand variables")
	}
	return out, nil
}
