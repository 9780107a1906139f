package enrich

import (
	"encoding/json"
	"testing"

	"github.com/noot-app/foods-cleanup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_Per100g(t *testing.T) {
	tests := []struct {
		name       string
		nutriments map[string]any
		expected   types.Nutrition
		missing    []string
	}{
		{
			name: "kcal and sodium keys",
			nutriments: map[string]any{
				"energy-kcal_100g":   518.0,
				"proteins_100g":      6.5,
				"carbohydrates_100g": 53.0,
				"fat_100g":           31.0,
				"fiber_100g":         4.5,
				"sugars_100g":        0.6,
				"sodium_100g":        0.52,
			},
			expected: types.Nutrition{Calories: 518, Protein: 6.5, Carbs: 53, Fat: 31, Fiber: 4.5, Sugar: 0.6, Sodium: 0.52},
		},
		{
			name: "energy in kJ and salt are converted",
			nutriments: map[string]any{
				"energy":        2255,
				"proteins":      6.3,
				"carbohydrates": 57.5,
				"fat":           30.9,
				"fiber":         0,
				"sugars":        56.3,
				"salt":          0.107,
			},
			expected: types.Nutrition{Calories: 538.96, Protein: 6.3, Carbs: 57.5, Fat: 30.9, Fiber: 0, Sugar: 56.3, Sodium: 0.04},
		},
		{
			name: "string values parse",
			nutriments: map[string]any{
				"energy-kcal":   "42",
				"proteins":      "0",
				"carbohydrates": "10.6",
				"fat":           "0",
				"fiber":         "0",
				"sugars":        "10.6",
				"sodium":        "0",
			},
			expected: types.Nutrition{Calories: 42, Carbs: 10.6, Sugar: 10.6},
		},
		{
			name:       "missing columns are reported",
			nutriments: map[string]any{"energy": 2000, "fat": 25.0},
			expected:   types.Nutrition{Calories: 478.01, Fat: 25},
			missing:    []string{types.ColProtein, types.ColCarbs, types.ColFiber, types.ColSugar, types.ColSodium},
		},
		{
			name:       "negative values count as missing",
			nutriments: map[string]any{"energy-kcal": 100, "proteins": -1, "carbohydrates": 1, "fat": 1, "fiber": 0, "sugars": 0, "sodium": 0},
			expected:   types.Nutrition{Calories: 100, Carbs: 1, Fat: 1},
			missing:    []string{types.ColProtein},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Nutriments: tt.nutriments}
			n, missing := p.Per100g()
			assert.Equal(t, tt.expected, n)
			assert.Equal(t, tt.missing, missing)
		})
	}
}

func TestProduct_ServingGrams(t *testing.T) {
	tests := []struct {
		name     string
		product  Product
		expected float64
		ok       bool
	}{
		{"numeric quantity", Product{ServingQuantity: 30}, 30, true},
		{"string quantity in ml", Product{ServingQuantity: "330", ServingQuantityUnit: "ml"}, 330, true},
		{"unsupported unit falls back to serving size text", Product{ServingQuantity: 1, ServingQuantityUnit: "piece", ServingSize: "1 bar (45 g)"}, 45, true},
		{"serving size text only", Product{ServingSize: "1 can (355 ml)"}, 355, true},
		{"zero quantity and no text", Product{ServingQuantity: 0}, 0, false},
		{"nothing", Product{}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, ok := tt.product.ServingGrams()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, g)
		})
	}
}

func TestProduct_IngredientsText(t *testing.T) {
	var structured any
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id": "en:sugar", "text": "Sugar", "percent_estimate": 50},
		{"id": "en:cocoa-butter", "text": " cocoa butter "},
		{"id": "en:unknown"}
	]`), &structured))

	tests := []struct {
		name        string
		ingredients any
		expected    string
	}{
		{"plain string", " water, sugar ", "water, sugar"},
		{"object with text", map[string]any{"text": "cocoa, sugar"}, "cocoa, sugar"},
		{"list of ingredients", structured, "Sugar, cocoa butter"},
		{"nil", nil, ""},
		{"unexpected type", 42, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{Ingredients: tt.ingredients}
			assert.Equal(t, tt.expected, p.IngredientsText())
		})
	}
}

func TestDecodeNutriments(t *testing.T) {
	t.Run("flat object", func(t *testing.T) {
		got := decodeNutriments(`{"fat_100g": 3.5, "salt_100g": 1.2}`)
		assert.Equal(t, map[string]any{"fat_100g": 3.5, "salt_100g": 1.2}, got)
	})

	t.Run("list of named entries", func(t *testing.T) {
		got := decodeNutriments(`[
			{"name": "energy", "100g": 1500, "unit": "kJ"},
			{"name": "energy", "100g": 358, "unit": "kcal"},
			{"name": "proteins", "100g": 7.1, "unit": "g"},
			{"name": "sugars", "100g": null, "unit": "g"}
		]`)
		assert.Equal(t, map[string]any{
			"energy_100g":      1500.0,
			"energy-kcal_100g": 358.0,
			"proteins_100g":    7.1,
		}, got)
	})

	t.Run("empty and invalid", func(t *testing.T) {
		assert.Empty(t, decodeNutriments(""))
		assert.Empty(t, decodeNutriments("null"))
		assert.Empty(t, decodeNutriments("not json"))
	})
}

func TestLocalizedText(t *testing.T) {
	assert.Equal(t, "Nutella", localizedText(`"Nutella"`))
	assert.Equal(t, "Pâte à tartiner", localizedText(`[{"lang":"fr","text":"Pâte à tartiner"}]`))
	assert.Equal(t, "Hazelnut spread", localizedText(`[{"lang":"fr","text":"Pâte à tartiner"},{"lang":"en","text":"Hazelnut spread"}]`))
	assert.Equal(t, "Nutella", localizedText(`[{"lang":"en","text":"Hazelnut spread"},{"lang":"main","text":"Nutella"}]`))
}
