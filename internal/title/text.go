package title

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const candidateMaxRunes = 80

var (
	newlineRe       = regexp.MustCompile(`\r?\n+`)
	quoteRe         = regexp.MustCompile(`[“”"„«»]+`)
	unsafeCharRe    = regexp.MustCompile(`[^A-Za-zÀ-ÖØ-öø-ÿÇĞİÖŞÜçğıöşü0-9\s\-.,'’]`)
	unsafeTokenRe   = regexp.MustCompile(`[^A-Za-zÀ-ÖØ-öø-ÿÇĞİÖŞÜçğıöşü0-9'’]`)
	spaceRe         = regexp.MustCompile(`\s+`)
	trailingPunctRe = regexp.MustCompile(`[.?!;:]+$`)
)

// cases.Caser values keep state and must not be shared, so each call builds
// its own.
func lower(s string) string {
	return cases.Lower(language.Turkish).String(s)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return cases.Upper(language.Turkish).String(string(r)) + s[size:]
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

// normalizeText flattens newlines, drops quotation marks and any character
// outside the allow-list, then collapses whitespace.
func normalizeText(s string) string {
	s = newlineRe.ReplaceAllString(s, " ")
	s = quoteRe.ReplaceAllString(s, "")
	s = unsafeCharRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// normalizeCandidate prepares a model-suggested title for finalisation.
func normalizeCandidate(s string) string {
	s = normalizeText(s)
	if utf8.RuneCountInString(s) > candidateMaxRunes {
		s = strings.TrimSpace(string([]rune(s)[:candidateMaxRunes]))
	}
	return strings.TrimSpace(trailingPunctRe.ReplaceAllString(s, ""))
}

func cleanToken(s string) string {
	return strings.Trim(unsafeTokenRe.ReplaceAllString(s, ""), "'’")
}

// cleanTokens splits s on whitespace and strips every token down to letters,
// digits and apostrophes, dropping tokens that end up empty.
func cleanTokens(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := cleanToken(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// token is one whitespace-delimited word of the original message.
type token struct {
	raw   string
	clean string
	lower string
}

func tokenize(message string) []token {
	fields := strings.Fields(message)
	toks := make([]token, 0, len(fields))
	for _, f := range fields {
		c := cleanToken(f)
		if c == "" {
			continue
		}
		toks = append(toks, token{raw: f, clean: c, lower: lower(c)})
	}
	return toks
}

// Casing maps a lowercased word to the spelling it first had in the message.
type Casing map[string]string

// NewCasing records the first spelling of every token.
func NewCasing(toks []token) Casing {
	c := make(Casing, len(toks))
	for _, t := range toks {
		if _, ok := c[t.lower]; !ok {
			c[t.lower] = t.clean
		}
	}
	return c
}

// Restore returns the original spelling of word when the message typed it
// with capitals, and ok=false otherwise.
func (c Casing) Restore(word string) (string, bool) {
	orig, ok := c[lower(word)]
	if !ok || !hasUpper(orig) {
		return "", false
	}
	return orig, true
}
