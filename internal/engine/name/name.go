// Package name scores a display name with Pythagorean letter values.
package name

import (
	"context"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/destiny/internal/calendar"
	"github.com/smallbiznis/destiny/internal/engine"
	"github.com/smallbiznis/destiny/internal/engine/numerology"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const version = "name/1.1.0"

// Options tune scoring. Romanize transliterates names without latin letters
// before scoring and defaults to on.
type Options struct {
	// Name overrides the profile display name.
	Name        string `option:"name"`
	YAsVowel    bool   `option:"y_as_vowel"`
	KeepMasters bool   `option:"keep_masters"`
	Romanize    bool   `option:"romanize"`
}

type Numbers struct {
	Expression  int `json:"expression"`
	SoulUrge    int `json:"soul_urge"`
	Personality int `json:"personality"`
}

type Chart struct {
	Normalized string         `json:"normalized"`
	Romanized  bool           `json:"romanized,omitempty"`
	Letters    int            `json:"letters"`
	Numbers    Numbers        `json:"numbers"`
	Missing    []int          `json:"missing,omitempty"`
	Frequency  map[string]int `json:"frequency"`
}

type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) System() engine.SystemType { return engine.SystemName }
func (e *Engine) Version() string           { return version }

func (e *Engine) Description() string {
	return "Pythagorean expression, soul urge and personality numbers of the display name"
}

func (e *Engine) Generate(ctx context.Context, moment calendar.CanonicalBirthMoment, opts engine.Options) (engine.Result, error) {
	o := Options{KeepMasters: true, Romanize: true}
	if err := engine.DecodeOptions(opts, &o); err != nil {
		return engine.Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return engine.Result{}, err
	}

	raw := strings.TrimSpace(o.Name)
	if raw == "" {
		raw = strings.TrimSpace(moment.DisplayName)
	}
	if raw == "" {
		return engine.Result{}, engine.ComputationFailed(engine.SystemName, "no display name on profile")
	}

	normalized, dropped, err := Normalize(raw)
	if err != nil {
		return engine.Result{}, engine.ComputationFailed(engine.SystemName, "normalize name: %v", err)
	}
	romanized := false
	if normalized == "" && o.Romanize {
		normalized, _, err = Normalize(Romanize(raw))
		if err != nil {
			return engine.Result{}, engine.ComputationFailed(engine.SystemName, "normalize name: %v", err)
		}
		romanized = normalized != ""
	}
	if normalized == "" {
		return engine.Result{}, engine.ComputationFailed(engine.SystemName, "name has no latin letters")
	}

	chart := Compute(normalized, o)
	chart.Romanized = romanized
	payload, err := engine.EncodePayload(chart)
	if err != nil {
		return engine.Result{}, engine.ComputationFailed(engine.SystemName, "encode chart: %v", err)
	}

	var diags []engine.Diagnostic
	switch {
	case romanized:
		diags = append(diags, engine.Diagnostic{
			Code:     "name_romanized",
			Severity: engine.SeverityInfo,
			Message:  "name was transliterated to latin letters",
		})
	case dropped > 0:
		diags = append(diags, engine.Diagnostic{
			Code:     "characters_dropped",
			Severity: engine.SeverityWarning,
			Message:  "non-latin characters were ignored",
		})
	}
	return engine.Result{Payload: payload, Diagnostics: diags}, nil
}

// Romanize transliterates a name into space separated latin syllables.
func Romanize(value string) string {
	return strings.ReplaceAll(slug.Make(value), "-", " ")
}

// Normalize strips diacritics and keeps upper-case A-Z letters and single spaces.
// It returns how many letters had no latin form.
func Normalize(value string) (string, int, error) {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, value)
	if err != nil {
		return "", 0, err
	}

	var b strings.Builder
	dropped := 0
	space := false
	for _, r := range strings.ToUpper(stripped) {
		switch {
		case r >= 'A' && r <= 'Z':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '\'':
			space = true
		case unicode.IsLetter(r):
			dropped++
		}
	}
	return b.String(), dropped, nil
}

func Compute(normalized string, o Options) Chart {
	var all, vowels, consonants int
	freq := map[string]int{}
	letters := 0
	for _, r := range normalized {
		if r < 'A' || r > 'Z' {
			continue
		}
		letters++
		v := letterValue(r)
		all += v
		freq[string(r)]++
		if isVowel(r, o.YAsVowel) {
			vowels += v
		} else {
			consonants += v
		}
	}

	present := map[int]bool{}
	for letter := range freq {
		present[letterValue(rune(letter[0]))] = true
	}
	var missing []int
	for n := 1; n <= 9; n++ {
		if !present[n] {
			missing = append(missing, n)
		}
	}

	return Chart{
		Normalized: normalized,
		Letters:    letters,
		Numbers: Numbers{
			Expression:  numerology.Reduce(all, o.KeepMasters),
			SoulUrge:    numerology.Reduce(vowels, o.KeepMasters),
			Personality: numerology.Reduce(consonants, o.KeepMasters),
		},
		Missing:   missing,
		Frequency: freq,
	}
}

func letterValue(r rune) int {
	return int(r-'A')%9 + 1
}

func isVowel(r rune, yAsVowel bool) bool {
	switch r {
	case 'A', 'E', 'I', 'O', 'U':
		return true
	case 'Y':
		return yAsVowel
	}
	return false
}
