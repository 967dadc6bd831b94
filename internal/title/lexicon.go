package title

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
)

// Category names understood by the extractor. A vocabulary document may omit
// any of them; a missing category behaves as an empty set.
const (
	CategoryStopword         = "stopword"
	CategoryVerb             = "verb"
	CategoryVerbSuffix       = "verb_suffix"
	CategoryQuestionParticle = "question_particle"
	CategoryPoliteFiller     = "polite_filler"
	CategoryLeadingFiller    = "leading_filler"
	CategoryDegeneratePrefix = "degenerate_prefix"
	CategoryDegenerate       = "degenerate"
	CategoryTimeLocation     = "time_location"
	CategoryFinance          = "finance"
	CategoryWeather          = "weather"
	CategoryStock            = "stock"
	CategoryCrypto           = "crypto"
	CategoryInvestment       = "investment"
)

//go:embed turkish.yaml
var turkishVocabulary []byte

// Vocabulary is the on-disk shape of a lexicon document.
type Vocabulary struct {
	Categories map[string][]string `yaml:"categories"`
	TimeLabels []TimeLabel         `yaml:"time_labels"`
	Places     map[string]string   `yaml:"places"`
	Phrases    Phrases             `yaml:"phrases"`
}

// TimeLabel maps a relative-time token to the phrase used in templates.
type TimeLabel struct {
	Token string `yaml:"token"`
	Label string `yaml:"label"`
}

// Phrases holds the fixed words and templates the extractor emits.
type Phrases struct {
	About        string `yaml:"about"`
	Question     string `yaml:"question"`
	Fallback     string `yaml:"fallback"`
	Investment   string `yaml:"investment"`
	Weather      string `yaml:"weather"`
	WeatherTimed string `yaml:"weather_timed"`
}

type place struct {
	stem   string
	phrase string
}

// Lexicon is a compiled Vocabulary. It is read-only after construction and
// safe for concurrent use.
type Lexicon struct {
	sets       map[string]map[string]struct{}
	suffixes   []string
	degenerate []string
	timeLabels []TimeLabel
	places     []place
	phrases    Phrases
}

// LoadLexicon parses a YAML vocabulary document.
func LoadLexicon(data []byte) (*Lexicon, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("title: decode vocabulary: %w", err)
	}
	return NewLexicon(v)
}

// NewLexicon compiles v, lowercasing every entry with Turkish casing rules.
func NewLexicon(v Vocabulary) (*Lexicon, error) {
	if strings.TrimSpace(v.Phrases.Fallback) == "" {
		return nil, errors.New("title: vocabulary must define phrases.fallback")
	}
	if strings.TrimSpace(v.Phrases.About) == "" || strings.TrimSpace(v.Phrases.Question) == "" {
		return nil, errors.New("title: vocabulary must define phrases.about and phrases.question")
	}

	v.Phrases.About = lower(strings.TrimSpace(v.Phrases.About))
	v.Phrases.Question = lower(strings.TrimSpace(v.Phrases.Question))
	lx := &Lexicon{
		sets:    make(map[string]map[string]struct{}, len(v.Categories)),
		phrases: v.Phrases,
	}
	for name, words := range v.Categories {
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = lower(strings.TrimSpace(w))
			if w != "" {
				set[w] = struct{}{}
			}
		}
		lx.sets[name] = set
	}

	for _, s := range v.Categories[CategoryVerbSuffix] {
		if s = lower(strings.TrimSpace(s)); s != "" {
			lx.suffixes = append(lx.suffixes, s)
		}
	}
	for _, s := range v.Categories[CategoryDegeneratePrefix] {
		if s = lower(strings.TrimSpace(s)); s != "" {
			lx.degenerate = append(lx.degenerate, s)
		}
	}

	for _, tl := range v.TimeLabels {
		tok := lower(strings.TrimSpace(tl.Token))
		if tok == "" || strings.TrimSpace(tl.Label) == "" {
			continue
		}
		lx.timeLabels = append(lx.timeLabels, TimeLabel{Token: tok, Label: strings.TrimSpace(tl.Label)})
	}

	for stem, phrase := range v.Places {
		stem = lower(strings.TrimSpace(stem))
		if stem == "" || strings.TrimSpace(phrase) == "" {
			continue
		}
		lx.places = append(lx.places, place{stem: stem, phrase: strings.TrimSpace(phrase)})
	}
	// Longest stem first so prefix matching is deterministic.
	sort.Slice(lx.places, func(i, j int) bool {
		if len(lx.places[i].stem) != len(lx.places[j].stem) {
			return len(lx.places[i].stem) > len(lx.places[j].stem)
		}
		return lx.places[i].stem < lx.places[j].stem
	})

	return lx, nil
}

var defaultLexicon = sync.OnceValues(func() (*Lexicon, error) {
	return LoadLexicon(turkishVocabulary)
})

// DefaultLexicon returns the embedded Turkish lexicon.
func DefaultLexicon() (*Lexicon, error) {
	return defaultLexicon()
}

// Has reports whether the lowercased word belongs to category.
func (lx *Lexicon) Has(category, word string) bool {
	_, ok := lx.sets[category][word]
	return ok
}

func (lx *Lexicon) hasSuffix(word string) bool {
	for _, s := range lx.suffixes {
		if strings.HasSuffix(word, s) {
			return true
		}
	}
	return false
}

func (lx *Lexicon) isTopic(word string) bool {
	return lx.Has(CategoryTimeLocation, word) || lx.Has(CategoryFinance, word) || lx.Has(CategoryWeather, word)
}

// isVerbLike reports whether a lowercased token should not end a title.
func (lx *Lexicon) isVerbLike(word string) bool {
	return lx.Has(CategoryVerb, word) ||
		lx.hasSuffix(word) ||
		lx.Has(CategoryQuestionParticle, word) ||
		lx.Has(CategoryPoliteFiller, word)
}

// isFiltered reports whether a lowercased token is dropped from titles.
func (lx *Lexicon) isFiltered(word string) bool {
	return lx.Has(CategoryStopword, word) || lx.Has(CategoryVerb, word)
}

func (lx *Lexicon) isDegenerate(lowered string) bool {
	if lx.Has(CategoryDegenerate, lowered) {
		return true
	}
	for _, p := range lx.degenerate {
		if strings.HasPrefix(lowered, p) {
			return true
		}
	}
	return false
}

func (lx *Lexicon) placeFor(word string) (place, bool) {
	for _, p := range lx.places {
		if strings.HasPrefix(word, p.stem) {
			return p, true
		}
	}
	return place{}, false
}
