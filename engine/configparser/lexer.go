package configparser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokTemplate // back-quoted literal; Text holds the raw body
	tokNumber
	tokPunct
	tokBad // unlexable span up to the end of its line; text holds the reason
)

type token struct {
	kind tokenKind
	text string
	pos  int // byte offset of the first character
	end  int // byte offset just past the last character
}

func (t token) is(kind tokenKind, text string) bool {
	return t.kind == kind && t.text == text
}

// lex tokenizes a JS/TS source. Whitespace and comments are dropped. A
// literal or comment that cannot be lexed becomes a tokBad covering the rest
// of its line, and lexing resumes on the next line.
func lex(src string) []token {
	var toks []token
	bad := func(at int, err error) int {
		end := len(src)
		if j := strings.IndexByte(src[at:], '\n'); j >= 0 {
			end = at + j
		}
		toks = append(toks, token{kind: tokBad, text: fmt.Sprintf("%v at %d", err, at), pos: at, end: end})
		return end
	}
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "//"):
			if j := strings.IndexByte(src[i:], '\n'); j >= 0 {
				i += j + 1
			} else {
				i = len(src)
			}
		case strings.HasPrefix(src[i:], "/*"):
			j := strings.Index(src[i+2:], "*/")
			if j < 0 {
				i = bad(i, fmt.Errorf("unterminated block comment"))
				continue
			}
			i += j + 4
		case c == '\'' || c == '"':
			s, n, err := lexQuoted(src[i:], c)
			if err != nil {
				i = bad(i, err)
				continue
			}
			toks = append(toks, token{kind: tokString, text: s, pos: i, end: i + n})
			i += n
		case c == '`':
			s, n, err := lexTemplate(src[i:])
			if err != nil {
				i = bad(i, err)
				continue
			}
			toks = append(toks, token{kind: tokTemplate, text: s, pos: i, end: i + n})
			i += n
		case c >= '0' && c <= '9':
			j := i + 1
			for j < len(src) && isNumberByte(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i, end: j})
			i = j
		case strings.HasPrefix(src[i:], "..."):
			toks = append(toks, token{kind: tokPunct, text: "...", pos: i, end: i + 3})
			i += 3
		default:
			r, size := utf8.DecodeRuneInString(src[i:])
			if isIdentStart(r) {
				j := i + size
				for j < len(src) {
					r2, s2 := utf8.DecodeRuneInString(src[j:])
					if !isIdentPart(r2) {
						break
					}
					j += s2
				}
				toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i, end: j})
				i = j
				continue
			}
			toks = append(toks, token{kind: tokPunct, text: src[i : i+size], pos: i, end: i + size})
			i += size
		}
	}
	return toks
}

func isNumberByte(b byte) bool {
	return b == '.' || b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentStart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

// lexQuoted decodes a single- or double-quoted string starting at s[0].
// It returns the decoded value and the number of bytes consumed.
func lexQuoted(s string, quote byte) (string, int, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch c {
		case quote:
			return b.String(), i + 1, nil
		case '\n':
			return "", 0, fmt.Errorf("newline in string literal")
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("unterminated escape")
			}
			n, err := writeEscape(&b, s[i+1:])
			if err != nil {
				return "", 0, err
			}
			i += 1 + n
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

// lexTemplate reads a back-quoted template literal. Interpolations are kept
// verbatim since their values are unknown at parse time.
func lexTemplate(s string) (string, int, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		switch c {
		case '`':
			return b.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("unterminated escape")
			}
			n, err := writeEscape(&b, s[i+1:])
			if err != nil {
				return "", 0, err
			}
			i += 1 + n
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated template literal")
}

// writeEscape decodes the escape sequence at the start of s (just past the
// backslash) and returns how many bytes it consumed.
func writeEscape(b *strings.Builder, s string) (int, error) {
	switch s[0] {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case '\n':
		// line continuation
	case '\r':
		if len(s) > 1 && s[1] == '\n' {
			return 2, nil
		}
	case 'u':
		if len(s) > 1 && s[1] == '{' {
			end := strings.IndexByte(s, '}')
			if end < 0 {
				return 0, fmt.Errorf("bad unicode escape")
			}
			v, err := strconv.ParseUint(s[2:end], 16, 32)
			if err != nil {
				return 0, fmt.Errorf("bad unicode escape: %w", err)
			}
			b.WriteRune(rune(v))
			return end + 1, nil
		}
		if len(s) < 5 {
			return 0, fmt.Errorf("bad unicode escape")
		}
		v, err := strconv.ParseUint(s[1:5], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("bad unicode escape: %w", err)
		}
		b.WriteRune(rune(v))
		return 5, nil
	case 'x':
		if len(s) < 3 {
			return 0, fmt.Errorf("bad hex escape")
		}
		v, err := strconv.ParseUint(s[1:3], 16, 8)
		if err != nil {
			return 0, fmt.Errorf("bad hex escape: %w", err)
		}
		b.WriteRune(rune(v))
		return 3, nil
	default:
		_, size := utf8.DecodeRuneInString(s)
		b.WriteString(s[:size])
		return size, nil
	}
	return 1, nil
}
