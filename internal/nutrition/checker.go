package nutrition

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/noot-app/foods-cleanup/internal/types"
)

// Thresholds used by the consistency checks
const (
	SugarSlack        = 1.0  // g/100g sugar may exceed carbs by before it is clamped
	FiberCeilingRatio = 2.0  // fiber above this multiple of carbs is implausible
	FiberClampRatio   = 0.4  // implausible fiber is clamped to this share of carbs
	CalorieRelative   = 0.30 // calorie mismatch relative threshold
	CalorieAbsolute   = 20.0 // calorie mismatch absolute threshold (kcal)
	MaxCalories       = 900.0
	MaxMacro          = 100.0
	ReferencePercent  = 0.01
	ReferenceFloor    = 0.5
)

// Review reasons reported for records that are left unmodified
const (
	ReasonMultipleClamps = "needs manual review: more than one field would need clamping"
	ReasonWholePackage   = "needs manual review: values look like whole-pack figures but do not rescale to a plausible per-100g set"
	ReasonNotConverging  = "needs manual review: correction does not converge"
	ReasonFiberHigh      = "fiber exceeds carbs"
)

type reference struct {
	rules.Reference
	name, brand, variant string
}

// Checker detects and, where it is safe, corrects inconsistent per-100g nutrition
type Checker struct {
	refs   []reference
	logger *slog.Logger
}

// New builds a checker from the verified reference table
func New(tables *rules.Tables, logger *slog.Logger) *Checker {
	c := &Checker{logger: logger.With("component", "nutrition")}

	// Variant entries are more specific and are tried first
	var plain []reference
	for _, r := range tables.References {
		ref := reference{
			Reference: r,
			name:      lowerTrim(r.Name),
			brand:     lowerTrim(r.Brand),
			variant:   lowerTrim(r.Variant),
		}
		if ref.variant != "" {
			c.refs = append(c.refs, ref)
		} else {
			plain = append(plain, ref)
		}
	}
	c.refs = append(c.refs, plain...)

	return c
}

// outcome is the result of evaluating the heuristic checks on one nutrition set
type outcome struct {
	nutrition types.Nutrition
	changes   []types.Change
	flags     []string
	clamped   []string // reasons for negatives set to 0, reported only if the changes are kept
	hold      string // non-empty when the record must be left unmodified
}

// Apply runs every check on rec and writes accepted corrections back to it.
// A returned Flag means the record belongs in the manual review list.
func (c *Checker) Apply(rec *types.FoodRecord) ([]types.Change, *types.Flag, error) {
	cols := append([]string{types.ColServingSizeG, types.ColIsVerified}, types.NutritionColumns...)
	if p := rec.Malformed(cols...); p != nil {
		return nil, nil, p
	}

	if ref, ok := c.Lookup(rec.Name, rec.Brand); ok {
		changes := c.applyReference(rec, ref)
		return changes, nil, nil
	}

	first := c.evaluate(rec.Nutrition, rec.ServingSizeG, rec.IsVerified)
	first.flags = append(first.flags, carriedClamps(rec, first.clamped)...)
	if first.hold != "" {
		c.logger.Info("record left for manual review", "id", rec.ID, "reason", first.hold)
		return nil, flagOf(append([]string{first.hold}, first.flags...)), nil
	}

	// A correction that would trip the checks again on the next run is not safe to keep
	if len(first.changes) > 0 {
		second := c.evaluate(first.nutrition, rec.ServingSizeG, rec.IsVerified)
		if second.hold != "" || len(second.changes) > 0 {
			c.logger.Info("record left for manual review", "id", rec.ID, "reason", ReasonNotConverging)
			return nil, flagOf(append([]string{ReasonNotConverging}, first.flags...)), nil
		}
	}

	for _, ch := range first.changes {
		if ch.Reason == ClampReason(ch.Field) {
			c.logger.Warn("negative nutrition value clamped", "id", rec.ID, "field", ch.Field, "old", ch.Old)
		} else {
			c.logger.Debug("nutrition corrected", "id", rec.ID, "field", ch.Field, "old", ch.Old, "new", ch.New, "reason", ch.Reason)
		}
	}
	rec.Nutrition = first.nutrition

	return first.changes, flagOf(append(first.clamped, first.flags...)), nil
}

// Lookup finds the verified reference entry matching a product name and brand
func (c *Checker) Lookup(name, brand string) (rules.Reference, bool) {
	n, b := lowerTrim(name), lowerTrim(brand)
	if n == "" || b == "" {
		return rules.Reference{}, false
	}
	for _, ref := range c.refs {
		if ref.brand != b {
			continue
		}
		if ref.variant != "" {
			if strings.Contains(n, ref.name) && strings.Contains(n, ref.variant) {
				return ref.Reference, true
			}
			continue
		}
		if n == ref.name {
			return ref.Reference, true
		}
	}
	return rules.Reference{}, false
}

// applyReference overwrites the nutrition with the reference when any field is out of tolerance
func (c *Checker) applyReference(rec *types.FoodRecord, ref rules.Reference) []types.Change {
	outOfTolerance := false
	for _, col := range types.NutritionColumns {
		got, want := rec.Nutrition.Get(col), ref.Per100g.Get(col)
		if got < 0 || math.Abs(got-want) > math.Max(want*ReferencePercent, ReferenceFloor) {
			outOfTolerance = true
			break
		}
	}
	if !outOfTolerance {
		return nil
	}

	reason := "reference override: " + ref.Label()
	if ref.Source != "" {
		reason += " (" + ref.Source + ")"
	}

	var changes []types.Change
	for _, col := range types.NutritionColumns {
		got, want := rec.Nutrition.Get(col), ref.Per100g.Get(col)
		if got != want {
			changes = append(changes, types.Change{Field: col, Old: got, New: want, Reason: reason})
		}
	}
	c.logger.Info("🔁 Nutrition replaced from reference", "id", rec.ID, "reference", ref.Label(), "fields", len(changes))
	rec.Nutrition = ref.Per100g

	return changes
}

// evaluate applies checks 1-5 in order to a copy of n
func (c *Checker) evaluate(n types.Nutrition, servingG *float64, verified bool) outcome {
	out := outcome{nutrition: n}
	clamps := 0

	set := func(col string, v float64, reason string) {
		old := out.nutrition.Get(col)
		if old == v {
			return
		}
		out.changes = append(out.changes, types.Change{Field: col, Old: old, New: v, Reason: reason})
		out.nutrition.Set(col, v)
	}

	// 1. Non-negativity. Applies to verified records too, and a clamped record is always flagged.
	for _, col := range types.NutritionColumns {
		if out.nutrition.Get(col) < 0 {
			clamps++
			set(col, 0, ClampReason(col))
			out.clamped = append(out.clamped, ClampReason(col))
		}
	}

	cur := &out.nutrition

	// 2. Sugar cannot exceed carbs
	if cur.Sugar > cur.Carbs+SugarSlack {
		if verified {
			out.flags = append(out.flags, "sugar exceeds carbs on verified record")
		} else {
			clamps++
			set(types.ColSugar, cur.Carbs, fmt.Sprintf("sugar %.2f exceeds carbs %.2f", cur.Sugar, cur.Carbs))
		}
	}

	// 3. Fiber far above carbs is clamped, a small overshoot is only reported
	switch {
	case cur.Fiber > FiberCeilingRatio*cur.Carbs:
		if verified {
			out.flags = append(out.flags, "fiber implausibly high on verified record")
		} else {
			clamps++
			set(types.ColFiber, round2(cur.Carbs*FiberClampRatio), fmt.Sprintf("fiber %.2f exceeds twice carbs %.2f", cur.Fiber, cur.Carbs))
		}
	case cur.Fiber > cur.Carbs+SugarSlack:
		out.flags = append(out.flags, ReasonFiberHigh)
	case cur.Fiber > cur.Carbs:
		c.logger.Debug("fiber slightly above carbs", "fiber", cur.Fiber, "carbs", cur.Carbs)
	}

	if clamps >= 2 {
		out.hold = ReasonMultipleClamps
		return out
	}

	// 4. Calories against the Atwater estimate
	expected := 4*cur.Protein + 4*cur.Carbs + 9*cur.Fat
	if cur.Calories > 0 {
		diff := math.Abs(expected - cur.Calories)
		if diff/cur.Calories > CalorieRelative && diff > CalorieAbsolute {
			if verified {
				out.flags = append(out.flags, "calories disagree with macros on verified record")
			} else {
				set(types.ColCalories, math.Round(expected), fmt.Sprintf("calories %.0f disagree with macros (expected %.0f)", cur.Calories, expected))
			}
		}
	}

	// 5. Whole-pack figures entered as per-100g
	if servingG != nil && *servingG > 0 && cur.Calories > *servingG {
		s := *servingG
		factor := 100 / s
		scaled := *cur
		for _, col := range types.NutritionColumns {
			scaled.Set(col, round2(cur.Get(col)*factor))
		}

		if scaled.Calories >= MaxCalories || scaled.Protein >= MaxMacro || scaled.Carbs >= MaxMacro || scaled.Fat >= MaxMacro {
			out.hold = ReasonWholePackage
			return out
		}
		if verified {
			out.flags = append(out.flags, "values look like whole-pack figures on verified record")
			return out
		}
		reason := fmt.Sprintf("whole-pack values rescaled to per 100g (serving %gg)", s)
		for _, col := range types.NutritionColumns {
			set(col, scaled.Get(col), reason)
		}
	}

	return out
}

// ClampReason is the review reason for a negative value that was set to 0
func ClampReason(col string) string {
	return "negative " + col + " clamped to 0"
}

// carriedClamps keeps a clamp from an earlier run in the review queue while the
// field is still 0, so the record stays queued until someone clears it.
func carriedClamps(rec *types.FoodRecord, raised []string) []string {
	var carried []string
	for _, col := range types.NutritionColumns {
		reason := ClampReason(col)
		if rec.Nutrition.Get(col) == 0 && strings.Contains(rec.ReviewReason, reason) && !slices.Contains(raised, reason) {
			carried = append(carried, reason)
		}
	}
	return carried
}

func flagOf(reasons []string) *types.Flag {
	if len(reasons) == 0 {
		return nil
	}
	return &types.Flag{Reason: strings.Join(reasons, "; ")}
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
