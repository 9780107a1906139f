package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/noot-app/foods-cleanup/internal/types"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces          = regexp.MustCompile(`\s+`)
	reSpaceBeforePunc = regexp.MustCompile(`\s+([,;:.!?)\]])`)
	reSpaceAfterOpen  = regexp.MustCompile(`([(\[])\s+`)
	reSeparatorRun    = regexp.MustCompile(`[,;:.](?:\s*[,;:.])+`)
)

type substitution struct {
	re *regexp.Regexp
	to string
}

// Normalizer canonicalizes brand names, spelling and ingredient formatting.
// Every operation is deterministic and idempotent.
type Normalizer struct {
	brands   map[string]string
	spelling []substitution
	phrases  []substitution
}

// New compiles the normalizer's rule tables
func New(tables *rules.Tables) *Normalizer {
	n := &Normalizer{brands: tables.Brands}

	for _, s := range tables.Spelling {
		n.spelling = append(n.spelling, substitution{
			re: regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(s.From)) + `\b`),
			to: s.To,
		})
	}
	for _, s := range tables.Phrases {
		words := strings.Fields(s.From)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		n.phrases = append(n.phrases, substitution{
			re: regexp.MustCompile(`(?i)` + strings.Join(words, `\s+`)),
			to: s.To,
		})
	}

	return n
}

// NormalizeBrand maps known brand variants to their canonical spelling.
// Unknown brands get spelling fixes, whitespace cleanup and per-word title
// casing; short all-caps acronyms are kept as written.
func (n *Normalizer) NormalizeBrand(raw string) string {
	cleaned := collapseSpaces(raw)
	if cleaned == "" {
		return ""
	}

	if canonical, ok := n.brands[strings.ToLower(cleaned)]; ok {
		return canonical
	}
	cleaned = n.FixSpelling(cleaned)
	if canonical, ok := n.brands[strings.ToLower(cleaned)]; ok {
		return canonical
	}

	caser := cases.Title(language.BritishEnglish)
	words := strings.Split(cleaned, " ")
	for i, w := range words {
		if isAcronym(w) {
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// FixSpelling applies word-boundary spelling rules and then phrase rules.
// Text outside matched spans is left untouched.
func (n *Normalizer) FixSpelling(raw string) string {
	out := raw
	for _, s := range n.spelling {
		out = replaceKeepingCase(s, out)
	}
	for _, s := range n.phrases {
		out = replaceKeepingCase(s, out)
	}
	return out
}

// CleanIngredientText tidies whitespace and punctuation of an ingredient list.
// Ordering and parenthetical content are not interpreted.
func (n *Normalizer) CleanIngredientText(raw string) string {
	out := collapseSpaces(raw)
	out = reSpaceBeforePunc.ReplaceAllString(out, "$1")
	out = reSpaceAfterOpen.ReplaceAllString(out, "$1")
	out = reSeparatorRun.ReplaceAllStringFunc(out, collapseSeparators)
	out = strings.Trim(out, ",;: ")
	return capitalizeFirst(out)
}

// Apply normalizes a record's text fields in place and returns what changed
func (n *Normalizer) Apply(rec *types.FoodRecord) []types.Change {
	var changes []types.Change

	if brand := n.NormalizeBrand(rec.Brand); brand != rec.Brand {
		changes = append(changes, types.Change{Field: types.ColBrand, Old: rec.Brand, New: brand, Reason: "brand normalized"})
		rec.Brand = brand
	}

	// The name is required, so a cleanup that empties it is discarded
	if name := n.FixSpelling(collapseSpaces(rec.Name)); name != "" && name != rec.Name {
		changes = append(changes, types.Change{Field: types.ColName, Old: rec.Name, New: name, Reason: "spelling"})
		rec.Name = name
	}

	if ingredients := n.CleanIngredientText(n.FixSpelling(rec.Ingredients)); ingredients != rec.Ingredients {
		changes = append(changes, types.Change{Field: types.ColIngredients, Old: rec.Ingredients, New: ingredients, Reason: "ingredient text cleaned"})
		rec.Ingredients = ingredients
	}

	return changes
}

func replaceKeepingCase(s substitution, text string) string {
	return s.re.ReplaceAllStringFunc(text, func(match string) string {
		return matchCase(match, s.to)
	})
}

// matchCase shapes replacement after the case of the matched span:
// ALL CAPS, Title case or lower case. Mixed case leaves the replacement as written.
func matchCase(match, replacement string) string {
	upper := strings.ToUpper(match)
	lower := strings.ToLower(match)

	switch {
	case match == upper && match != lower:
		return strings.ToUpper(replacement)
	case match == lower:
		return replacement
	}

	if isTitleShape(match) {
		return titleWords(replacement)
	}
	return replacement
}

// titleWords upper-cases the first letter of every space or hyphen separated word
func titleWords(s string) string {
	var b strings.Builder
	wordStart := true
	for _, r := range strings.ToLower(s) {
		if wordStart && unicode.IsLetter(r) {
			r = unicode.ToUpper(r)
		}
		wordStart = unicode.IsSpace(r) || r == '-'
		b.WriteRune(r)
	}
	return b.String()
}

// collapseSeparators reduces a run like ",," or ".. ," to one separator,
// preferring a comma, semicolon or colon over a full stop
func collapseSeparators(run string) string {
	for _, r := range run {
		if r != '.' && !unicode.IsSpace(r) {
			return string(r)
		}
	}
	return "."
}

// isTitleShape reports whether only word-initial letters are upper case, the first one included
func isTitleShape(s string) bool {
	first, _ := utf8.DecodeRuneInString(s)
	if !unicode.IsUpper(first) {
		return false
	}
	wordStart := true
	for _, r := range s {
		if unicode.IsSpace(r) || r == '-' {
			wordStart = true
			continue
		}
		if !wordStart && unicode.IsUpper(r) {
			return false
		}
		wordStart = false
	}
	return true
}

func collapseSpaces(s string) string {
	s = norm.NFC.String(s)
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || !unicode.IsLower(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func isAcronym(word string) bool {
	n := utf8.RuneCountInString(word)
	if n < 2 || n > 4 {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) || !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
