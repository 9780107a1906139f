package enrich

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/noot-app/foods-cleanup/internal/serving"
	"github.com/noot-app/foods-cleanup/internal/types"
)

// Product is one Open Food Facts row as read from the parquet snapshot
type Product struct {
	Code                string         `json:"code"`
	ProductName         string         `json:"product_name"`
	Brands              string         `json:"brands"`
	Nutriments          map[string]any `json:"nutriments"`
	Link                string         `json:"link,omitempty"`
	Ingredients         any            `json:"ingredients,omitempty"`
	ServingQuantity     any            `json:"serving_quantity,omitempty"`
	ServingQuantityUnit string         `json:"serving_quantity_unit,omitempty"`
	ServingSize         string         `json:"serving_size,omitempty"`
}

const (
	kjPerKcal    = 4.184
	saltToSodium = 2.5
)

// nutrimentKeys lists the per-100g keys tried for each column, most specific first
var nutrimentKeys = map[string][]string{
	types.ColProtein: {"proteins_100g", "proteins"},
	types.ColCarbs:   {"carbohydrates_100g", "carbohydrates"},
	types.ColFat:     {"fat_100g", "fat"},
	types.ColFiber:   {"fiber_100g", "fiber"},
	types.ColSugar:   {"sugars_100g", "sugars"},
}

// Per100g maps the product's nutriments onto the foods macro columns.
// Energy in kJ is converted to kcal and salt to sodium. missing lists the
// columns with no usable value; the nutrition is only complete when it is empty.
func (p *Product) Per100g() (n types.Nutrition, missing []string) {
	if v, ok := p.nutriment("energy-kcal_100g", "energy-kcal"); ok {
		n.Calories = v
	} else if v, ok := p.nutriment("energy-kj_100g", "energy-kj", "energy_100g", "energy"); ok {
		n.Calories = round2(v / kjPerKcal)
	} else {
		missing = append(missing, types.ColCalories)
	}

	for _, col := range []string{types.ColProtein, types.ColCarbs, types.ColFat, types.ColFiber, types.ColSugar} {
		v, ok := p.nutriment(nutrimentKeys[col]...)
		if !ok {
			missing = append(missing, col)
			continue
		}
		n.Set(col, v)
	}

	if v, ok := p.nutriment("sodium_100g", "sodium"); ok {
		n.Sodium = v
	} else if v, ok := p.nutriment("salt_100g", "salt"); ok {
		n.Sodium = round2(v / saltToSodium)
	} else {
		missing = append(missing, types.ColSodium)
	}
	return n, missing
}

func (p *Product) nutriment(keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := p.Nutriments[k]
		if !ok {
			continue
		}
		if v, ok := toFloat(raw); ok && v >= 0 {
			return v, true
		}
	}
	return 0, false
}

// ServingGrams returns the serving size in grams when the product states one in g or ml
func (p *Product) ServingGrams() (float64, bool) {
	unit := strings.ToLower(strings.TrimSpace(p.ServingQuantityUnit))
	if v, ok := toFloat(p.ServingQuantity); ok && v > 0 && (unit == "" || unit == "g" || unit == "ml") {
		return round2(v), true
	}
	return serving.ExtractGrams(p.ServingSize)
}

// IngredientsText flattens the ingredients column into a comma-separated list
func (p *Product) IngredientsText() string {
	switch v := p.Ingredients.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return strings.TrimSpace(s)
		}
	case []any:
		var parts []string
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := m["text"].(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (p *Product) String() string {
	return fmt.Sprintf("%s %s (%s)", p.Brands, p.ProductName, p.Code)
}
