package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	tables, err := Default()
	require.NoError(t, err)

	assert.NotEmpty(t, tables.Version)
	assert.Equal(t, "Sainsbury's", tables.Brands["by-sainsbury-s"])
	assert.NotEmpty(t, tables.Spelling)
	assert.NotEmpty(t, tables.Phrases)
	assert.NotEmpty(t, tables.Servings)
	assert.NotEmpty(t, tables.References)

	// Every canonical brand must map back to itself
	for _, canonical := range tables.Brands {
		if mapped, ok := tables.Brands[strings.ToLower(canonical)]; ok {
			assert.Equal(t, canonical, mapped, "canonical brand %q is not a fixed point", canonical)
		}
	}
}

func TestServingRule_Grams(t *testing.T) {
	tests := []struct {
		name     string
		rule     ServingRule
		expected float64
	}{
		{"grams", ServingRule{Amount: 45, Unit: "g"}, 45},
		{"millilitres", ServingRule{Amount: 330, Unit: "ml"}, 330},
		{"litres", ServingRule{Amount: 1.5, Unit: "l"}, 1500},
		{"kilograms", ServingRule{Amount: 0.5, Unit: "kg"}, 500},
		{"ounces", ServingRule{Amount: 2, Unit: "oz"}, 56.7},
		{"upper case unit", ServingRule{Amount: 250, Unit: "ML"}, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.rule.Grams(), 1e-9)
		})
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing version",
			yaml:    "brands: {tesco: Tesco}\n",
			wantErr: "version is required",
		},
		{
			name:    "unknown serving unit",
			yaml:    "version: v1\nservings:\n  - {keywords: [cola], amount: 330, unit: cups}\n",
			wantErr: "unknown unit",
		},
		{
			name:    "non-positive serving",
			yaml:    "version: v1\nservings:\n  - {keywords: [cola], amount: 0, unit: ml}\n",
			wantErr: "non-positive amount",
		},
		{
			name:    "self substitution",
			yaml:    "version: v1\nspelling:\n  - {from: Chocolate, to: chocolate}\n",
			wantErr: "maps to itself",
		},
		{
			name:    "negative reference value",
			yaml:    "version: v1\nreferences:\n  - {name: X, brand: Y, per_100g: {calories: -1}}\n",
			wantErr: "negative calories",
		},
		{
			name:    "invalid yaml",
			yaml:    "version: [",
			wantErr: "failed to parse rules",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_NormalizesBrandKeys(t *testing.T) {
	tables, err := Parse([]byte("version: v1\nbrands:\n  '  TESCO ': Tesco\n"))
	require.NoError(t, err)
	assert.Equal(t, "Tesco", tables.Brands["tesco"])
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses embedded defaults", func(t *testing.T) {
		tables, err := Load("")
		require.NoError(t, err)
		assert.NotEmpty(t, tables.References)
	})

	t.Run("file path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(path, []byte("version: fixture-1\nbrands: {tesco: Tesco}\n"), 0644))

		tables, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "fixture-1", tables.Version)
		assert.Empty(t, tables.References)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}
