package tabular

import (
	"fmt"
	"strings"
)

// BindNamed rewrites :name parameters to $n placeholders and returns the
// matching argument list. A name used twice binds to the same placeholder.
// Casts (::type) and quoted literals are left untouched.
func BindNamed(query string, params map[string]any) (string, []any, error) {
	var (
		out   strings.Builder
		args  []any
		index = map[string]int{}
	)
	out.Grow(len(query))

	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' || ch == '"':
			end := closingQuote(query, i)
			out.WriteString(query[i:end])
			i = end - 1
		case ch == ':' && i+1 < len(query) && query[i+1] == ':':
			out.WriteString("::")
			i++
		case ch == ':' && i+1 < len(query) && isIdentStart(query[i+1]):
			j := i + 1
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			name := query[i+1 : j]
			n, seen := index[name]
			if !seen {
				v, ok := params[name]
				if !ok {
					return "", nil, fmt.Errorf("query references unknown parameter :%s", name)
				}
				args = append(args, v)
				n = len(args)
				index[name] = n
			}
			fmt.Fprintf(&out, "$%d", n)
			i = j - 1
		default:
			out.WriteByte(ch)
		}
	}
	return out.String(), args, nil
}

// closingQuote returns the index just past the literal opened at start.
// Doubled quotes inside the literal are escapes.
func closingQuote(s string, start int) int {
	q := s[start]
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
