package configparser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// normalizer re-emits a JS/TS object or array literal as a JSON-compatible
// YAML flow document. Strings are double-quoted, comments are already gone,
// trailing commas and spreads are dropped, and any non-literal expression is
// kept as a quoted string of its source text.
type normalizer struct {
	src  string
	toks []token
}

func (n *normalizer) at(i int) (token, error) {
	if i >= len(n.toks) {
		return token{}, fmt.Errorf("unexpected end of input")
	}
	return n.toks[i], nil
}

// value emits the value starting at token i and returns the index just past it.
func (n *normalizer) value(i int, b *strings.Builder) (int, error) {
	t, err := n.at(i)
	if err != nil {
		return 0, err
	}
	switch {
	case t.kind == tokBad:
		return 0, errors.New(t.text)
	case t.is(tokPunct, "{"):
		return n.object(i, b)
	case t.is(tokPunct, "["):
		return n.array(i, b)
	case t.kind == tokString || t.kind == tokTemplate:
		if end, ok := n.simpleEnd(i + 1); ok {
			b.WriteString(strconv.Quote(t.text))
			return end, nil
		}
	case t.kind == tokNumber:
		if end, ok := n.simpleEnd(i + 1); ok {
			writeNumber(b, t.text)
			return end, nil
		}
	case t.is(tokPunct, "-"):
		if next, err := n.at(i + 1); err == nil && next.kind == tokNumber {
			if end, ok := n.simpleEnd(i + 2); ok {
				writeNumber(b, "-"+next.text)
				return end, nil
			}
		}
	case t.kind == tokIdent:
		if end, ok := n.simpleEnd(i + 1); ok {
			switch t.text {
			case "true", "false":
				b.WriteString(t.text)
			case "null", "undefined":
				b.WriteString("null")
			default:
				b.WriteString(strconv.Quote(t.text))
			}
			return end, nil
		}
	}
	return n.expression(i, b)
}

// simpleEnd reports whether the token at i terminates a value, so that the
// preceding single token is the whole value.
func (n *normalizer) simpleEnd(i int) (int, bool) {
	if i >= len(n.toks) {
		return i, true
	}
	t := n.toks[i]
	if t.kind == tokPunct {
		switch t.text {
		case ",", "}", "]", ";", ")":
			return i, true
		}
	}
	return i, false
}

// expression captures an arbitrary expression up to the next separator at
// depth zero and emits its source text as a string.
func (n *normalizer) expression(i int, b *strings.Builder) (int, error) {
	end, err := n.skip(i)
	if err != nil {
		return 0, err
	}
	if end == i {
		return 0, fmt.Errorf("expected value at offset %d", n.toks[i].pos)
	}
	raw := n.src[n.toks[i].pos:n.toks[end-1].end]
	b.WriteString(strconv.Quote(strings.TrimSpace(raw)))
	return end, nil
}

// skip returns the index of the first separator at depth zero at or after i.
// Skipping over an unlexable span fails.
func (n *normalizer) skip(i int) (int, error) {
	depth := 0
	for j := i; j < len(n.toks); j++ {
		t := n.toks[j]
		if t.kind == tokBad {
			return 0, errors.New(t.text)
		}
		if t.kind != tokPunct {
			continue
		}
		switch t.text {
		case "{", "[", "(":
			depth++
		case "}", "]", ")":
			if depth == 0 {
				return j, nil
			}
			depth--
		case ",", ";":
			if depth == 0 {
				return j, nil
			}
		}
	}
	if depth != 0 {
		return 0, fmt.Errorf("unbalanced brackets")
	}
	return len(n.toks), nil
}

// skipMember skips an unsupported object member and fails when no progress
// is possible, which means the brackets are mismatched.
func (n *normalizer) skipMember(i int) (int, error) {
	end, err := n.skip(i)
	if err != nil {
		return 0, err
	}
	if end == i {
		return 0, fmt.Errorf("unexpected %q at offset %d", n.toks[i].text, n.toks[i].pos)
	}
	return end, nil
}

func (n *normalizer) object(i int, b *strings.Builder) (int, error) {
	b.WriteByte('{')
	i++
	first := true
	for {
		t, err := n.at(i)
		if err != nil {
			return 0, err
		}
		switch {
		case t.is(tokPunct, "}"):
			b.WriteByte('}')
			return i + 1, nil
		case t.is(tokPunct, ","):
			i++
			continue
		case t.is(tokPunct, "..."):
			if i, err = n.skip(i + 1); err != nil {
				return 0, err
			}
			continue
		}

		var key string
		switch t.kind {
		case tokIdent, tokString, tokNumber:
			key = t.text
			i++
		default:
			// computed keys and other exotic members are ignored
			if i, err = n.skipMember(i); err != nil {
				return 0, err
			}
			continue
		}

		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(strconv.Quote(key))
		b.WriteString(": ")

		next, err := n.at(i)
		if err != nil {
			return 0, err
		}
		switch {
		case next.is(tokPunct, ":"):
			if i, err = n.value(i+1, b); err != nil {
				return 0, fmt.Errorf("key %q: %w", key, err)
			}
		case next.is(tokPunct, ",") || next.is(tokPunct, "}"):
			b.WriteString("null") // shorthand property
		default:
			// method shorthand or type annotation
			if i, err = n.skipMember(i); err != nil {
				return 0, err
			}
			b.WriteString("null")
		}
	}
}

func (n *normalizer) array(i int, b *strings.Builder) (int, error) {
	b.WriteByte('[')
	i++
	first := true
	for {
		t, err := n.at(i)
		if err != nil {
			return 0, err
		}
		switch {
		case t.is(tokPunct, "]"):
			b.WriteByte(']')
			return i + 1, nil
		case t.is(tokPunct, ","):
			i++
			continue
		case t.is(tokPunct, "..."):
			if i, err = n.skip(i + 1); err != nil {
				return 0, err
			}
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		if i, err = n.value(i, b); err != nil {
			return 0, err
		}
	}
}

func writeNumber(b *strings.Builder, lit string) {
	clean := strings.ReplaceAll(lit, "_", "")
	if _, err := strconv.ParseFloat(clean, 64); err == nil {
		b.WriteString(clean)
		return
	}
	if v, err := strconv.ParseInt(clean, 0, 64); err == nil {
		b.WriteString(strconv.FormatInt(v, 10))
		return
	}
	b.WriteString(strconv.Quote(lit))
}
