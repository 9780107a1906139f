package serving

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/noot-app/foods-cleanup/internal/types"
)

// Policy decides what happens to a record no rule can size
type Policy string

const (
	// PolicyFlagForReview leaves the size unknown and queues the record for a human
	PolicyFlagForReview Policy = "flag_for_review"
	// PolicyDefault100g stores a 100 g fallback
	PolicyDefault100g Policy = "default_100g"
)

// FallbackGrams is the category-independent default used by PolicyDefault100g
const FallbackGrams = 100.0

// ReasonUnresolved is the review reason for records left without a serving size
const ReasonUnresolved = "serving size unresolved"

// ParsePolicy converts a configuration string to a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFlagForReview:
		return PolicyFlagForReview, nil
	case PolicyDefault100g:
		return PolicyDefault100g, nil
	}
	return "", fmt.Errorf("unknown serving policy %q (want %s or %s)", s, PolicyFlagForReview, PolicyDefault100g)
}

// unitPatterns are tried in priority order; the first unit with a positive match wins
var unitPatterns = []struct {
	unit string
	re   *regexp.Regexp
}{
	{"g", regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*g\b`)},
	{"kg", regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*kg\b`)},
	{"ml", regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*ml\b`)},
	{"l", regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:l|litre|liter)\b`)},
	{"oz", regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:fl\.?\s*)?oz\b`)},
}

// ExtractGrams finds a magnitude+unit token in free text and converts it to grams
func ExtractGrams(text string) (float64, bool) {
	for _, p := range unitPatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
			if err != nil || v <= 0 {
				continue
			}
			return round2(v * rules.UnitGrams[p.unit]), true
		}
	}
	return 0, false
}

type keywordRule struct {
	keywords []*regexp.Regexp
	labels   []string
	grams    float64
}

// Resolution is the outcome of sizing one record
type Resolution struct {
	Grams    float64
	Source   string
	Resolved bool
}

// Resolver infers serving sizes for records without a valid one
type Resolver struct {
	rules  []keywordRule
	policy Policy
}

// New compiles the keyword table. Table order is preserved as rule priority.
func New(tables *rules.Tables, policy Policy) *Resolver {
	r := &Resolver{policy: policy}
	for _, sr := range tables.Servings {
		kr := keywordRule{grams: sr.Grams()}
		for _, kw := range sr.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			kr.keywords = append(kr.keywords, regexp.MustCompile(`\b`+regexp.QuoteMeta(kw)+`\b`))
			kr.labels = append(kr.labels, kw)
		}
		r.rules = append(r.rules, kr)
	}
	return r
}

// Policy returns the unresolved-size policy the resolver was built with
func (r *Resolver) Policy() Policy {
	return r.policy
}

// Resolve works out a serving size for rec without modifying it
func (r *Resolver) Resolve(rec *types.FoodRecord) Resolution {
	if rec.HasServingSize() {
		return Resolution{Grams: *rec.ServingSizeG, Source: "existing", Resolved: true}
	}
	if g, ok := ExtractGrams(rec.Name); ok {
		return Resolution{Grams: g, Source: "name", Resolved: true}
	}
	if g, ok := ExtractGrams(rec.ServingDescription); ok {
		return Resolution{Grams: g, Source: "description", Resolved: true}
	}

	text := strings.ToLower(strings.Join([]string{rec.Name, rec.Brand, rec.Category}, " "))
	for _, kr := range r.rules {
		for i, re := range kr.keywords {
			if re.MatchString(text) {
				return Resolution{Grams: kr.grams, Source: "keyword:" + kr.labels[i], Resolved: true}
			}
		}
	}

	if r.policy == PolicyDefault100g {
		return Resolution{Grams: FallbackGrams, Source: "fallback", Resolved: true}
	}
	return Resolution{Source: "unresolved"}
}

// Apply fills in rec's serving size when it is missing or invalid.
// It never touches a positive stored value or any nutrition field.
func (r *Resolver) Apply(rec *types.FoodRecord) ([]types.Change, *types.Flag, error) {
	if p := rec.Malformed(types.ColServingSizeG, types.ColName); p != nil {
		return nil, nil, p
	}
	if rec.HasServingSize() {
		return nil, nil, nil
	}

	var old any
	if rec.ServingSizeG != nil {
		old = *rec.ServingSizeG
	}

	res := r.Resolve(rec)
	if !res.Resolved {
		flag := &types.Flag{Reason: ReasonUnresolved}
		// Zero or negative sizes become an explicit unknown
		if rec.ServingSizeG != nil {
			rec.ServingSizeG = nil
			return []types.Change{{Field: types.ColServingSizeG, Old: old, New: nil, Reason: "invalid serving size cleared"}}, flag, nil
		}
		return nil, flag, nil
	}

	grams := res.Grams
	rec.ServingSizeG = &grams
	return []types.Change{{Field: types.ColServingSizeG, Old: old, New: grams, Reason: "serving size from " + res.Source}}, nil, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
