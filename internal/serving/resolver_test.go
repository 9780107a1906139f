package serving

import (
	"errors"
	"testing"

	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/noot-app/foods-cleanup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, policy Policy) *Resolver {
	t.Helper()
	tables, err := rules.Default()
	require.NoError(t, err)
	return New(tables, policy)
}

func ptr(v float64) *float64 { return &v }

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected Policy
		wantErr  bool
	}{
		{"", PolicyFlagForReview, false},
		{"flag_for_review", PolicyFlagForReview, false},
		{" DEFAULT_100G ", PolicyDefault100g, false},
		{"guess", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p)
		})
	}
}

func TestExtractGrams(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected float64
		found    bool
	}{
		{"grams", "Walkers Ready Salted 32.5g", 32.5, true},
		{"grams with space", "Dairy Milk 45 g", 45, true},
		{"kilograms", "Basmati Rice 1kg", 1000, true},
		{"millilitres", "Ribena 500ml Squash", 500, true},
		{"litres", "Coca-Cola 1.5L", 1500, true},
		{"comma decimal", "Orange Juice 1,5 l", 1500, true},
		{"ounces", "Peanuts 4oz", 113.4, true},
		{"fluid ounces", "Soda 12 fl oz", 340.2, true},
		{"grams beat millilitres", "Soup 400g (serves 2, 300ml)", 400, true},
		{"first grams match wins", "Multipack 6 x 25g 150g", 25, true},
		{"zero is skipped", "Cola 0g sugar 330ml", 330, true},
		{"milligrams are not grams", "Vitamin C 500mg", 0, false},
		{"no token", "2 biscuits", 0, false},
		{"empty", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, ok := ExtractGrams(tt.text)
			assert.Equal(t, tt.found, ok)
			assert.InDelta(t, tt.expected, g, 0.001)
		})
	}
}

func TestResolve(t *testing.T) {
	r := newTestResolver(t, PolicyFlagForReview)

	tests := []struct {
		name   string
		rec    types.FoodRecord
		grams  float64
		source string
	}{
		{
			name:   "existing value kept",
			rec:    types.FoodRecord{Name: "Cola 330ml", ServingSizeG: ptr(250)},
			grams:  250,
			source: "existing",
		},
		{
			name:   "name token wins over keyword table",
			rec:    types.FoodRecord{Name: "Ribena 500ml Squash"},
			grams:  500,
			source: "name",
		},
		{
			name:   "description used when name has no token",
			rec:    types.FoodRecord{Name: "Diet Coke", ServingDescription: "330ml can"},
			grams:  330,
			source: "description",
		},
		{
			name:   "keyword rule",
			rec:    types.FoodRecord{Name: "Pepsi Max"},
			grams:  330,
			source: "keyword:pepsi",
		},
		{
			name:   "table order is priority",
			rec:    types.FoodRecord{Name: "Dairy Milk Chocolate"},
			grams:  45,
			source: "keyword:dairy milk",
		},
		{
			name:   "keyword matches whole words only",
			rec:    types.FoodRecord{Name: "Chocolate Spread"},
			grams:  10,
			source: "keyword:spread",
		},
		{
			name:   "brand and category text are searched",
			rec:    types.FoodRecord{Name: "Natural", Brand: "Yeo Valley", Category: "Yoghurt"},
			grams:  125,
			source: "keyword:yoghurt",
		},
		{
			name:   "negative value is not kept",
			rec:    types.FoodRecord{Name: "Shreddies", ServingSizeG: ptr(-5)},
			grams:  30,
			source: "keyword:shreddies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(&tt.rec)
			assert.True(t, res.Resolved)
			assert.InDelta(t, tt.grams, res.Grams, 0.001)
			assert.Equal(t, tt.source, res.Source)
		})
	}
}

func TestApply_Policies(t *testing.T) {
	t.Run("flag for review leaves size unknown", func(t *testing.T) {
		r := newTestResolver(t, PolicyFlagForReview)
		rec := &types.FoodRecord{ID: 7, Name: "Mystery Item"}

		changes, flag, err := r.Apply(rec)
		require.NoError(t, err)
		assert.Empty(t, changes)
		require.NotNil(t, flag)
		assert.Equal(t, ReasonUnresolved, flag.Reason)
		assert.Nil(t, rec.ServingSizeG)
	})

	t.Run("flag for review clears a zero size", func(t *testing.T) {
		r := newTestResolver(t, PolicyFlagForReview)
		rec := &types.FoodRecord{ID: 7, Name: "Mystery Item", ServingSizeG: ptr(0)}

		changes, flag, err := r.Apply(rec)
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Nil(t, changes[0].New)
		assert.Equal(t, 0.0, changes[0].Old)
		assert.NotNil(t, flag)
		assert.Nil(t, rec.ServingSizeG)

		// Second pass changes nothing
		changes, flag, err = r.Apply(rec)
		require.NoError(t, err)
		assert.Empty(t, changes)
		assert.NotNil(t, flag)
	})

	t.Run("default 100g fills the fallback", func(t *testing.T) {
		r := newTestResolver(t, PolicyDefault100g)
		rec := &types.FoodRecord{ID: 7, Name: "Mystery Item"}

		changes, flag, err := r.Apply(rec)
		require.NoError(t, err)
		assert.Nil(t, flag)
		require.Len(t, changes, 1)
		assert.Equal(t, FallbackGrams, changes[0].New)
		require.NotNil(t, rec.ServingSizeG)
		assert.Equal(t, FallbackGrams, *rec.ServingSizeG)
	})
}

func TestApply_Idempotent(t *testing.T) {
	r := newTestResolver(t, PolicyFlagForReview)
	rec := &types.FoodRecord{ID: 1, Name: "Ribena 500ml Squash"}

	changes, _, err := r.Apply(rec)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Old)
	assert.Equal(t, 500.0, changes[0].New)

	changes, flag, err := r.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Nil(t, flag)
}

func TestApply_MalformedRecordIsSkipped(t *testing.T) {
	r := newTestResolver(t, PolicyDefault100g)
	rec := &types.FoodRecord{
		ID:   3,
		Name: "Cola",
		Problems: []*types.MalformedInputError{
			{ID: 3, Field: types.ColServingSizeG, Value: "one can"},
		},
	}

	changes, flag, err := r.Apply(rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMalformedInput))
	assert.Empty(t, changes)
	assert.Nil(t, flag)
}
