// Package configparser extracts structured profile records (skills, work
// experience, education, external projects) from a TypeScript/JavaScript
// profile configuration such as gitprofile.config.ts.
//
// The file is tokenized, the requested literal is located by key and captured
// with bracket balancing, normalized to a YAML flow document, and decoded with
// yaml.v3. Each record type is extracted independently so a malformed section
// only affects its own records.
package configparser

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrKeyNotFound is returned when none of the requested keys introduce an
// object or array literal.
var ErrKeyNotFound = errors.New("configparser: key not found")

// Config is a tokenized profile configuration.
type Config struct {
	norm normalizer
}

// Parse tokenizes src. Parse itself never fails: an unlexable span only
// fails the extraction whose literal contains it.
func Parse(src string) *Config {
	return &Config{norm: normalizer{src: src, toks: lex(src)}}
}

// Malformed reports the unlexable spans in the source, if any.
func (c *Config) Malformed() []string {
	var out []string
	for _, t := range c.norm.toks {
		if t.kind == tokBad {
			out = append(out, t.text)
		}
	}
	return out
}

// find returns the index of the first `key: {` or `key: [` for any of keys,
// tried in order.
func (c *Config) find(keys ...string) (int, error) {
	toks := c.norm.toks
	for _, key := range keys {
		for i := 0; i+2 < len(toks); i++ {
			t := toks[i]
			if (t.kind != tokIdent && t.kind != tokString) || t.text != key {
				continue
			}
			if !toks[i+1].is(tokPunct, ":") {
				continue
			}
			if open := toks[i+2]; open.is(tokPunct, "[") || open.is(tokPunct, "{") {
				return i + 2, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, strings.Join(keys, "|"))
}

// Raw returns the normalized YAML flow text of the first matching literal.
func (c *Config) Raw(keys ...string) (string, error) {
	start, err := c.find(keys...)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if _, err := c.norm.value(start, &b); err != nil {
		return "", fmt.Errorf("configparser: %s: %w", strings.Join(keys, "|"), err)
	}
	return b.String(), nil
}

// Decode locates the first matching literal and decodes it into out.
func (c *Config) Decode(out any, keys ...string) error {
	raw, err := c.Raw(keys...)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("configparser: decode %s: %w", strings.Join(keys, "|"), err)
	}
	return nil
}
