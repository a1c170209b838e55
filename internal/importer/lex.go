package importer

import (
	"fmt"
	"strings"
)

type quoteState struct {
	single bool
	double bool
	ansi   bool
	escape bool
	skipLF bool
}

func (q *quoteState) open() bool {
	return q.single || q.double || q.ansi
}

// splitShell tokenizes a shell command line: single quotes are literal,
// double quotes honour backslashes, $'...' decodes ANSI-C escapes and a
// backslash before a newline continues the line.
func splitShell(input string) ([]string, error) {
	var (
		q       quoteState
		buf     strings.Builder
		out     []string
		pending bool
	)
	flush := func() {
		if buf.Len() > 0 || pending {
			out = append(out, buf.String())
		}
		buf.Reset()
		pending = false
	}

	rs := []rune(input)
	for i := 0; i < len(rs); i++ {
		r := rs[i]

		if q.skipLF {
			q.skipLF = false
			if r == '\n' {
				continue
			}
		}

		if q.escape {
			q.escape = false
			switch {
			case q.ansi:
				val, err := ansiEscape(rs, &i)
				if err != nil {
					return nil, err
				}
				buf.WriteRune(val)
			case r == '\n' || r == '\r':
				if r == '\r' {
					q.skipLF = true
				}
			case q.double && !strings.ContainsRune("\"\\$`", r):
				buf.WriteRune('\\')
				buf.WriteRune(r)
			default:
				buf.WriteRune(r)
			}
			continue
		}

		switch {
		case q.ansi:
			switch r {
			case '\\':
				q.escape = true
			case '\'':
				q.ansi = false
			default:
				buf.WriteRune(r)
			}
		case q.single:
			if r == '\'' {
				q.single = false
			} else {
				buf.WriteRune(r)
			}
		case r == '\\':
			q.escape = true
		case r == '"':
			q.double = !q.double
			pending = true
		case q.double:
			buf.WriteRune(r)
		case r == '\'':
			q.single = true
			pending = true
		case r == '$' && i+1 < len(rs) && rs[i+1] == '\'':
			q.ansi = true
			pending = true
			i++
		case isSpace(r):
			flush()
		default:
			buf.WriteRune(r)
		}
	}

	if q.escape {
		return nil, fmt.Errorf("unterminated escape sequence")
	}
	if q.open() {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()
	return out, nil
}

func ansiEscape(rs []rune, i *int) (rune, error) {
	switch r := rs[*i]; r {
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'x':
		return readHex(rs, i, 2)
	case 'u':
		return readHex(rs, i, 4)
	default:
		return r, nil
	}
}

func readHex(rs []rune, i *int, n int) (rune, error) {
	if *i+n >= len(rs) {
		return 0, fmt.Errorf("invalid hex escape")
	}
	val := 0
	for j := 1; j <= n; j++ {
		d := strings.IndexRune("0123456789abcdef", toLower(rs[*i+j]))
		if d < 0 {
			return 0, fmt.Errorf("invalid hex escape")
		}
		val = val*16 + d
	}
	*i += n
	return rune(val), nil
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}
