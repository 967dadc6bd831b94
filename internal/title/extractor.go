// Package title derives short conversation titles from a user's message.
//
// The pipeline is rule based: tokens are scored against a Lexicon, the best
// window of up to four tokens is kept, verb-like endings are trimmed and the
// result is cased. A model-suggested candidate can be passed in and is
// cleaned by the same rules; when it is unusable the message alone decides.
package title

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	maxTitleWords         = 5
	windowWords           = 4
	stopwordFallbackWords = 3
)

// Weights are the per-token scores used when choosing a window.
type Weights struct {
	Stopword      int
	VerbSuffix    int
	TimeLocation  int
	Finance       int
	Weather       int
	Long          int
	LongRunes     int
	Uppercase     int
	TopicInWindow int
}

// DefaultWeights returns the scoring used by the default extractor.
func DefaultWeights() Weights {
	return Weights{
		Stopword:      -100,
		VerbSuffix:    -80,
		TimeLocation:  6,
		Finance:       5,
		Weather:       5,
		Long:          2,
		LongRunes:     4,
		Uppercase:     3,
		TopicInWindow: 3,
	}
}

// Extractor derives titles. It holds no mutable state.
type Extractor struct {
	lx *Lexicon
	w  Weights
}

// NewExtractor builds an Extractor over lx.
func NewExtractor(lx *Lexicon, w Weights) (*Extractor, error) {
	if lx == nil {
		return nil, errors.New("title: lexicon must not be nil")
	}
	return &Extractor{lx: lx, w: w}, nil
}

// Default returns an Extractor over the embedded Turkish lexicon.
func Default() (*Extractor, error) {
	lx, err := DefaultLexicon()
	if err != nil {
		return nil, err
	}
	return NewExtractor(lx, DefaultWeights())
}

// message is the per-call view of the original user text.
type message struct {
	toks     []token
	casing   Casing
	question bool
}

// Derive returns a title of one to five words for msg. candidate is an
// optional model-suggested title and may be empty.
func (x *Extractor) Derive(msg, candidate string) string {
	toks := tokenize(msg)
	if len(toks) == 0 {
		return x.lx.phrases.Fallback
	}
	in := message{
		toks:     toks,
		casing:   NewCasing(toks),
		question: x.isQuestion(msg, toks),
	}

	if t, ok := x.special(toks); ok && x.valid(t) {
		return t
	}

	t := x.finalize(in, normalizeCandidate(candidate))
	if !x.valid(t) {
		t = x.finalize(in, "")
	}
	if !x.valid(t) {
		t = x.lx.phrases.Fallback
	}
	return t
}

// Valid reports whether t satisfies the title contract: one to five words
// and no verb-like final word.
func (x *Extractor) Valid(t string) bool {
	return x.valid(t)
}

func (x *Extractor) valid(t string) bool {
	words := strings.Fields(t)
	if len(words) == 0 || len(words) > maxTitleWords {
		return false
	}
	last := lower(cleanToken(words[len(words)-1]))
	return last != "" && !x.lx.isVerbLike(last)
}

func (x *Extractor) isQuestion(msg string, toks []token) bool {
	if strings.Contains(msg, "?") {
		return true
	}
	for _, t := range toks {
		if x.lx.Has(CategoryQuestionParticle, t.lower) {
			return true
		}
	}
	return false
}

func (x *Extractor) finalize(in message, candidate string) string {
	words := cleanTokens(candidate)
	if len(words) > 0 && x.lx.Has(CategoryLeadingFiller, lower(words[0])) {
		words = words[1:]
	}
	words = x.trimTrailing(words)
	words = x.dropFiltered(words)

	if x.degenerate(words) {
		words = x.pickWindow(in.toks)
	}
	words = x.trimTrailing(words)
	if len(words) > maxTitleWords {
		words = x.trimTrailing(words[:maxTitleWords])
	}
	if in.question {
		words = x.markQuestion(words)
	}
	return x.render(words, in.casing)
}

func (x *Extractor) trimTrailing(words []string) []string {
	for len(words) > 0 && x.lx.isVerbLike(lower(words[len(words)-1])) {
		words = words[:len(words)-1]
	}
	return words
}

func (x *Extractor) dropFiltered(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if !x.lx.isFiltered(lower(w)) {
			out = append(out, w)
		}
	}
	return out
}

func (x *Extractor) degenerate(words []string) bool {
	joined := lower(strings.Join(words, " "))
	return utf8.RuneCountInString(joined) < 2 || x.lx.isDegenerate(joined)
}

func (x *Extractor) score(t token) int {
	if x.lx.Has(CategoryStopword, t.lower) || x.lx.Has(CategoryVerb, t.lower) || x.lx.Has(CategoryQuestionParticle, t.lower) {
		return x.w.Stopword
	}
	s := 0
	if x.lx.hasSuffix(t.lower) {
		s += x.w.VerbSuffix
	}
	if x.lx.Has(CategoryTimeLocation, t.lower) {
		s += x.w.TimeLocation
	}
	if x.lx.Has(CategoryFinance, t.lower) {
		s += x.w.Finance
	}
	if x.lx.Has(CategoryWeather, t.lower) {
		s += x.w.Weather
	}
	if utf8.RuneCountInString(t.lower) >= x.w.LongRunes {
		s += x.w.Long
	}
	if hasUpper(t.raw) {
		s += x.w.Uppercase
	}
	return s
}

// pickWindow returns the best-scoring run of up to four tokens. Lengths are
// tried longest first and the search stops at the first length that yields
// a positive score.
func (x *Extractor) pickWindow(toks []token) []string {
	n := len(toks)
	if n == 0 {
		return nil
	}
	scores := make([]int, n)
	for i, t := range toks {
		scores[i] = x.score(t)
		if x.lx.isTopic(t.lower) {
			scores[i] += x.w.TopicInWindow
		}
	}

	maxLen := min(windowWords, n)
	bestStart, bestLen, bestScore := 0, maxLen, 0
	found := false
	for l := maxLen; l >= 1; l-- {
		for s := 0; s+l <= n; s++ {
			sum := 0
			for _, v := range scores[s : s+l] {
				sum += v
			}
			if !found || sum > bestScore {
				bestStart, bestLen, bestScore, found = s, l, sum, true
			}
		}
		if bestScore > 0 {
			break
		}
	}

	words := make([]string, 0, bestLen)
	for _, t := range toks[bestStart : bestStart+bestLen] {
		if !x.lx.Has(CategoryStopword, t.lower) {
			words = append(words, t.clean)
		}
	}
	if len(words) > 0 {
		return words
	}

	// Nothing but stopwords: keep the opening of the message verbatim.
	for _, t := range toks[:min(stopwordFallbackWords, n)] {
		words = append(words, t.clean)
	}
	return words
}

func (x *Extractor) markQuestion(words []string) []string {
	if len(words) == 0 {
		return words
	}
	about, question := x.lx.phrases.About, x.lx.phrases.Question
	for _, w := range words {
		lw := lower(w)
		if strings.Contains(lw, question) || strings.Contains(lw, about) {
			return words
		}
	}
	if len(words) >= maxTitleWords {
		words = x.trimTrailing(words[:maxTitleWords-1])
	}
	switch len(words) {
	case 0:
		return words
	case 1:
		return append(words, about, question)
	default:
		return append(words, question)
	}
}

func (x *Extractor) render(words []string, casing Casing) string {
	out := make([]string, 0, len(words))
	for i, w := range words {
		if orig, ok := casing.Restore(w); ok {
			out = append(out, orig)
			continue
		}
		lw := lower(w)
		if i == 0 {
			lw = upperFirst(lw)
		}
		out = append(out, lw)
	}
	out = x.collapseMarkers(out)
	return upperFirst(strings.Join(out, " "))
}

// collapseMarkers removes an "about" or "question" word repeated back to back.
func (x *Extractor) collapseMarkers(words []string) []string {
	out := make([]string, 0, len(words))
	for i, w := range words {
		lw := lower(w)
		if i > 0 && lw == lower(words[i-1]) && (lw == x.lx.phrases.About || lw == x.lx.phrases.Question) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (x *Extractor) special(toks []token) (string, bool) {
	has := func(category string) bool {
		for _, t := range toks {
			if x.lx.Has(category, t.lower) {
				return true
			}
		}
		return false
	}

	stock, crypto, invest := has(CategoryStock), has(CategoryCrypto), has(CategoryInvestment)
	if x.lx.phrases.Investment != "" && ((stock && crypto) || (invest && (crypto || stock))) {
		return x.lx.phrases.Investment, true
	}

	if !has(CategoryWeather) {
		return "", false
	}
	var (
		p     place
		found bool
	)
	for _, t := range toks {
		if p, found = x.lx.placeFor(t.lower); found {
			break
		}
	}
	if !found {
		return "", false
	}

	label := ""
	for _, tl := range x.lx.timeLabels {
		if containsToken(toks, tl.Token) {
			label = tl.Label
			break
		}
	}
	tmpl := x.lx.phrases.Weather
	if label != "" && x.lx.phrases.WeatherTimed != "" {
		tmpl = x.lx.phrases.WeatherTimed
	}
	if tmpl == "" {
		return "", false
	}
	out := strings.NewReplacer("{time}", label, "{place}", p.phrase).Replace(tmpl)
	return strings.Join(strings.Fields(out), " "), true
}

func containsToken(toks []token, word string) bool {
	for _, t := range toks {
		if t.lower == word {
			return true
		}
	}
	return false
}
