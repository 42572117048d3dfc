// Package textproc normalizes request text before it reaches the model.
// The model tolerates most input, but control characters, exotic dashes and
// runaway whitespace degrade prosody, so they are cleaned up once here rather
// than in every caller.
package textproc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// MaxTextLength bounds a single synthesis request. Longer documents are split
// upstream into per-page chunks before they reach this service.
const MaxTextLength = 8192

const whitespaceRegexPattern = `\s+`

// Dash and ellipsis variants normalized to plain ASCII.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsisChar = "…"
	ellipsis     = "..."
)

// ErrTextTooLong indicates input beyond the per-request limit.
var ErrTextTooLong = errors.New("text exceeds maximum length")

// Normalizer cleans raw request text for synthesis.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	punctReplacer     *strings.Replacer
}

// NewNormalizer creates a normalizer with precompiled patterns and replacers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize cleans text for synthesis: control characters are stripped,
// typographic punctuation is flattened to ASCII, and whitespace runs collapse
// to single spaces. Empty input passes through; the caller decides whether
// blank text is an error.
func (n *Normalizer) Normalize(text string) (string, error) {
	if len(text) > MaxTextLength {
		return "", fmt.Errorf("%w: %d bytes (limit %d)",
			ErrTextTooLong, len(text), MaxTextLength)
	}

	cleaned := stripControlCharacters(text)
	cleaned = n.punctReplacer.Replace(cleaned)
	cleaned = n.whitespacePattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned), nil
}

// stripControlCharacters drops non-printing runes, keeping standard
// whitespace so the collapse pass can handle it.
func stripControlCharacters(text string) string {
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return r
		}

		if unicode.IsControl(r) {
			return -1
		}

		return r
	}, text)
}
