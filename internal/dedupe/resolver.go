package dedupe

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/noot-app/foods-cleanup/internal/types"
)

// Score weights for picking a survivor
const (
	ScoreVerified       = 1000.0
	ScoreIngredients    = 100.0
	ScoreBarcode        = 50.0
	ScoreMicronutrients = 30.0
	ScoreServingSize    = 20.0
	RecencyDivisor      = 1e9

	minIngredientsLen = 20
)

// Score ranks a duplicate candidate; higher is better
func Score(rec *types.FoodRecord) float64 {
	s := 0.0
	if rec.IsVerified {
		s += ScoreVerified
	}
	if utf8.RuneCountInString(strings.TrimSpace(rec.Ingredients)) > minIngredientsLen {
		s += ScoreIngredients
	}
	if strings.TrimSpace(rec.Barcode) != "" {
		s += ScoreBarcode
	}
	if rec.HasServingSize() {
		s += ScoreServingSize
	}
	if rec.Micros.AnyNonZero() {
		s += ScoreMicronutrients
	}
	return s + float64(rec.UpdatedAt)/RecencyDivisor
}

// Decision is the outcome for one group of duplicates
type Decision struct {
	Key      [2]string
	Survivor *types.FoodRecord
	Losers   []*types.FoodRecord
	// Merged lists fields copied into the survivor from losers, only in merge mode
	Merged []types.Change
}

// LoserIDs returns the ids to delete
func (d Decision) LoserIDs() []int64 {
	ids := make([]int64, len(d.Losers))
	for i, l := range d.Losers {
		ids[i] = l.ID
	}
	return ids
}

// Resolver collapses records that represent the same product into one
type Resolver struct {
	mergeFields bool
	logger      *slog.Logger
}

// New creates a resolver. With mergeFields the survivor's empty fields are
// filled from the losers before they are deleted.
func New(mergeFields bool, logger *slog.Logger) *Resolver {
	return &Resolver{
		mergeFields: mergeFields,
		logger:      logger.With("component", "dedupe"),
	}
}

// Plan groups records by canonical key and decides a survivor for every group
// with more than one member. Survivors are updated in place in merge mode.
// Decisions are ordered by survivor id.
func (r *Resolver) Plan(records []*types.FoodRecord) []Decision {
	groups := make(map[[2]string][]*types.FoodRecord)
	for _, rec := range records {
		key := rec.CanonicalKey()
		if key[0] == "" {
			continue
		}
		groups[key] = append(groups[key], rec)
	}

	var decisions []Decision
	for key, members := range groups {
		if len(members) < 2 {
			continue
		}
		for _, cluster := range splitByBarcode(members) {
			if len(cluster) < 2 {
				continue
			}
			rank(cluster)
			d := Decision{Key: key, Survivor: cluster[0], Losers: cluster[1:]}
			if r.mergeFields {
				d.Merged = merge(d.Survivor, d.Losers)
			}
			r.logger.Debug("duplicate group resolved",
				"name", key[0], "brand", key[1],
				"survivor", d.Survivor.ID, "deleted", d.LoserIDs())
			decisions = append(decisions, d)
		}
	}

	sort.Slice(decisions, func(i, j int) bool {
		return decisions[i].Survivor.ID < decisions[j].Survivor.ID
	})
	return decisions
}

// rank orders members best first
func rank(members []*types.FoodRecord) {
	sort.SliceStable(members, func(i, j int) bool {
		return better(members[i], members[j])
	})
}

// better reports whether a outranks b; ties go to the lowest id
func better(a, b *types.FoodRecord) bool {
	sa, sb := Score(a), Score(b)
	if sa != sb {
		return sa > sb
	}
	return a.ID < b.ID
}

// splitByBarcode keeps products that share a name but carry different barcodes apart.
// Members without a barcode join the cluster of the best barcoded member.
func splitByBarcode(members []*types.FoodRecord) [][]*types.FoodRecord {
	byBarcode := make(map[string][]*types.FoodRecord)
	var order []string
	var bare []*types.FoodRecord
	for _, m := range members {
		bc := strings.TrimSpace(m.Barcode)
		if bc == "" {
			bare = append(bare, m)
			continue
		}
		if _, ok := byBarcode[bc]; !ok {
			order = append(order, bc)
		}
		byBarcode[bc] = append(byBarcode[bc], m)
	}
	if len(byBarcode) < 2 {
		return [][]*types.FoodRecord{members}
	}

	sort.Strings(order)
	var best string
	var bestRec *types.FoodRecord
	for _, bc := range order {
		for _, m := range byBarcode[bc] {
			if bestRec == nil || better(m, bestRec) {
				best, bestRec = bc, m
			}
		}
	}
	byBarcode[best] = append(byBarcode[best], bare...)

	clusters := make([][]*types.FoodRecord, 0, len(order))
	for _, bc := range order {
		clusters = append(clusters, byBarcode[bc])
	}
	return clusters
}

// merge fills the survivor's empty fields from losers in rank order
func merge(survivor *types.FoodRecord, losers []*types.FoodRecord) []types.Change {
	var changes []types.Change
	fillString := func(field string, dst *string, get func(*types.FoodRecord) string) {
		if strings.TrimSpace(*dst) != "" {
			return
		}
		for _, l := range losers {
			if v := get(l); strings.TrimSpace(v) != "" {
				changes = append(changes, types.Change{Field: field, Old: *dst, New: v, Reason: mergeReason(l)})
				*dst = v
				return
			}
		}
	}

	fillString(types.ColBarcode, &survivor.Barcode, func(r *types.FoodRecord) string { return r.Barcode })
	fillString(types.ColCategory, &survivor.Category, func(r *types.FoodRecord) string { return r.Category })
	fillString(types.ColServingDescription, &survivor.ServingDescription, func(r *types.FoodRecord) string { return r.ServingDescription })
	fillString(types.ColIngredients, &survivor.Ingredients, func(r *types.FoodRecord) string { return r.Ingredients })

	if !survivor.HasServingSize() {
		for _, l := range losers {
			if l.HasServingSize() {
				var old any
				if survivor.ServingSizeG != nil {
					old = *survivor.ServingSizeG
				}
				v := *l.ServingSizeG
				survivor.ServingSizeG = &v
				changes = append(changes, types.Change{Field: types.ColServingSizeG, Old: old, New: v, Reason: mergeReason(l)})
				break
			}
		}
	}

	if !survivor.Micros.AnyNonZero() {
		for _, l := range losers {
			if l.Micros.AnyNonZero() {
				for _, f := range microFields(&survivor.Micros, l.Micros) {
					if *f.dst != f.src {
						changes = append(changes, types.Change{Field: f.col, Old: *f.dst, New: f.src, Reason: mergeReason(l)})
						*f.dst = f.src
					}
				}
				break
			}
		}
	}

	return changes
}

type microField struct {
	col string
	dst *float64
	src float64
}

func microFields(dst *types.Micronutrients, src types.Micronutrients) []microField {
	return []microField{
		{types.ColVitaminA, &dst.VitaminA, src.VitaminA},
		{types.ColVitaminC, &dst.VitaminC, src.VitaminC},
		{types.ColVitaminD, &dst.VitaminD, src.VitaminD},
		{types.ColCalcium, &dst.Calcium, src.Calcium},
		{types.ColIron, &dst.Iron, src.Iron},
		{types.ColPotassium, &dst.Potassium, src.Potassium},
	}
}

func mergeReason(from *types.FoodRecord) string {
	return "merged from duplicate " + strconv.FormatInt(from.ID, 10)
}
