package workflow

import (
	"io"
	"slices"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	placeholderStart = "{{"
	placeholderEnd   = "}}"
)

// renderString replaces {{placeholder}} tags with values from data.
// A placeholder resolves as a dotted path ({{lead.name}}) or, failing that,
// with its first underscore read as a dot ({{lead_name}}). Unresolved
// placeholders render empty and are returned by name.
func renderString(template string, data map[string]any) (string, []string) {
	if !strings.Contains(template, placeholderStart) {
		return template, nil
	}

	var unresolved []string

	rendered, err := fasttemplate.ExecuteFuncStringWithErr(template, placeholderStart, placeholderEnd,
		func(w io.Writer, tag string) (int, error) {
			name := strings.TrimSpace(tag)

			value, ok := resolvePlaceholder(data, name)
			if !ok {
				if !slices.Contains(unresolved, name) {
					unresolved = append(unresolved, name)
				}

				return 0, nil
			}

			return w.Write([]byte(toString(value)))
		})
	if err != nil {
		// Unbalanced tags are left as literal text.
		return template, nil
	}

	return rendered, unresolved
}

func resolvePlaceholder(data map[string]any, name string) (any, bool) {
	if value, ok := lookupPath(data, name); ok {
		return value, true
	}

	if head, tail, ok := strings.Cut(name, "_"); ok {
		return lookupPath(data, head+"."+tail)
	}

	return nil, false
}

// renderValue walks decoded JSON and renders every string in it.
func renderValue(value any, data map[string]any, unresolved *[]string) any {
	switch v := value.(type) {
	case string:
		rendered, missing := renderString(v, data)
		for _, name := range missing {
			if !slices.Contains(*unresolved, name) {
				*unresolved = append(*unresolved, name)
			}
		}

		return rendered
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = renderValue(item, data, unresolved)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = renderValue(item, data, unresolved)
		}

		return out
	default:
		return v
	}
}
