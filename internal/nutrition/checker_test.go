package nutrition

import (
	"errors"
	"io"
	"testing"

	"github.com/noot-app/foods-cleanup/internal/config"
	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/noot-app/foods-cleanup/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChecker(t *testing.T) *Checker {
	t.Helper()
	tables, err := rules.Default()
	require.NoError(t, err)
	return New(tables, config.NewTestLogger(io.Discard, "debug"))
}

func ptr(v float64) *float64 { return &v }

func TestApply_ConservativeCalories(t *testing.T) {
	c := newTestChecker(t)

	for _, serving := range []*float64{nil, ptr(100), ptr(250)} {
		rec := &types.FoodRecord{
			ID:           1,
			Name:         "Chicken Tikka Sandwich",
			Brand:        "Own Brand",
			ServingSizeG: serving,
			Nutrition:    types.Nutrition{Calories: 139, Protein: 7.66, Carbs: 10.4, Fat: 7.2, Fiber: 1.2, Sugar: 1.8, Sodium: 0.4},
		}
		before := rec.Nutrition

		changes, flag, err := c.Apply(rec)
		require.NoError(t, err)
		assert.Empty(t, changes)
		assert.Nil(t, flag)
		assert.Equal(t, before, rec.Nutrition)
	}
}

func TestApply_WholePackageIsFlaggedWhenRescaleImplausible(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:           2,
		Name:         "Milk Chocolate Bar",
		Brand:        "Own Brand",
		ServingSizeG: ptr(45),
		Nutrition:    types.Nutrition{Calories: 534, Protein: 7.3, Carbs: 57, Fat: 30, Fiber: 2.1, Sugar: 56, Sodium: 0.1},
	}
	before := rec.Nutrition

	changes, flag, err := c.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	require.NotNil(t, flag)
	assert.Contains(t, flag.Reason, ReasonWholePackage)
	assert.Equal(t, before, rec.Nutrition, "record must be left unmodified")
}

func TestApply_WholePackageRescaled(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:           3,
		Name:         "Sparkling Orange",
		Brand:        "Own Brand",
		ServingSizeG: ptr(250),
		Nutrition:    types.Nutrition{Calories: 300, Protein: 5, Carbs: 60, Fat: 2.5, Fiber: 0, Sugar: 50, Sodium: 0.5},
	}

	changes, flag, err := c.Apply(rec)
	require.NoError(t, err)
	assert.Nil(t, flag)
	assert.Len(t, changes, 6)
	assert.Equal(t, types.Nutrition{Calories: 120, Protein: 2, Carbs: 24, Fat: 1, Fiber: 0, Sugar: 20, Sodium: 0.2}, rec.Nutrition)

	changes, flag, err = c.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Nil(t, flag)
}

func TestApply_NonConvergingCorrectionIsHeld(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:           4,
		Name:         "Granola Pot",
		Brand:        "Own Brand",
		ServingSizeG: ptr(30),
		Nutrition:    types.Nutrition{Calories: 120, Protein: 3, Carbs: 20, Fat: 3, Fiber: 1, Sugar: 5, Sodium: 0.1},
	}
	before := rec.Nutrition

	changes, flag, err := c.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	require.NotNil(t, flag)
	assert.Contains(t, flag.Reason, ReasonNotConverging)
	assert.Equal(t, before, rec.Nutrition)
}

func TestApply_ReferenceMatchWithinTolerance(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:        5,
		Name:      "Walkers Crisps",
		Brand:     "Walkers",
		Nutrition: types.Nutrition{Calories: 518, Protein: 6.4, Carbs: 52.0, Fat: 31.0, Fiber: 3.9, Sugar: 0.4, Sodium: 0.52},
	}

	changes, flag, err := c.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Nil(t, flag)
}

func TestApply_ReferenceOverride(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:        6,
		Name:      "walkers crisps",
		Brand:     "WALKERS",
		Nutrition: types.Nutrition{Calories: 600, Protein: 6.4, Carbs: 52.0, Fat: 31.0, Fiber: 3.9, Sugar: 0.4, Sodium: 0.52},
	}

	changes, flag, err := c.Apply(rec)
	require.NoError(t, err)
	assert.Nil(t, flag)
	require.Len(t, changes, 1)
	assert.Equal(t, types.ColCalories, changes[0].Field)
	assert.Equal(t, 600.0, changes[0].Old)
	assert.Equal(t, 518.0, changes[0].New)
	assert.Contains(t, changes[0].Reason, "Walkers Walkers Crisps")
	assert.Equal(t, 518.0, rec.Nutrition.Calories)
}

func TestLookup(t *testing.T) {
	c := newTestChecker(t)

	tests := []struct {
		name     string
		product  string
		brand    string
		found    bool
		expected string
	}{
		{"exact", "Walkers Crisps", "Walkers", true, "Walkers Walkers Crisps"},
		{"variant by containment", "Walkers Crisps Cheese & Onion 6pk", "walkers", true, "Walkers Crisps (Cheese & Onion)"},
		{"brand must match exactly", "Walkers Crisps", "Walkers Ltd", false, ""},
		{"name without variant must match exactly", "Walkers Crisps Multipack", "Walkers", false, ""},
		{"no brand", "Dairy Milk", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, ok := c.Lookup(tt.product, tt.brand)
			assert.Equal(t, tt.found, ok)
			if ok {
				assert.Equal(t, tt.expected, ref.Label())
			}
		})
	}
}

func TestApply_Checks(t *testing.T) {
	tests := []struct {
		name       string
		rec        types.FoodRecord
		expected   types.Nutrition
		changes    int
		flagReason string
	}{
		{
			name:       "single negative clamped and flagged",
			rec:        types.FoodRecord{Nutrition: types.Nutrition{Calories: 49, Protein: -2, Carbs: 10, Fat: 1}},
			expected:   types.Nutrition{Calories: 49, Protein: 0, Carbs: 10, Fat: 1},
			changes:    1,
			flagReason: "negative protein clamped to 0",
		},
		{
			name:       "two negatives held",
			rec:        types.FoodRecord{Nutrition: types.Nutrition{Calories: 40, Protein: -2, Carbs: 10, Fat: -1}},
			expected:   types.Nutrition{Calories: 40, Protein: -2, Carbs: 10, Fat: -1},
			flagReason: ReasonMultipleClamps,
		},
		{
			name:     "sugar clamped to carbs",
			rec:      types.FoodRecord{Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 15}},
			expected: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 10},
			changes:  1,
		},
		{
			name:     "sugar within slack",
			rec:      types.FoodRecord{Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 10.8}},
			expected: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 10.8},
		},
		{
			name:     "implausible fiber clamped",
			rec:      types.FoodRecord{Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Fiber: 25}},
			expected: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Fiber: 4},
			changes:  1,
		},
		{
			name:       "high fiber only flagged",
			rec:        types.FoodRecord{Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Fiber: 15}},
			expected:   types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Fiber: 15},
			flagReason: ReasonFiberHigh,
		},
		{
			name:       "sugar and fiber clamps held",
			rec:        types.FoodRecord{Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 15, Fiber: 25}},
			expected:   types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 15, Fiber: 25},
			flagReason: ReasonMultipleClamps,
		},
		{
			name:     "calorie mismatch corrected",
			rec:      types.FoodRecord{Nutrition: types.Nutrition{Calories: 300, Protein: 10, Carbs: 20, Fat: 5}},
			expected: types.Nutrition{Calories: 165, Protein: 10, Carbs: 20, Fat: 5},
			changes:  1,
		},
		{
			name:     "diet drink left alone",
			rec:      types.FoodRecord{ServingSizeG: ptr(330), Nutrition: types.Nutrition{Calories: 1, Sodium: 0.02}},
			expected: types.Nutrition{Calories: 1, Sodium: 0.02},
		},
		{
			name:       "verified record only flagged",
			rec:        types.FoodRecord{IsVerified: true, Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 15}},
			expected:   types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sugar: 15},
			flagReason: "sugar exceeds carbs on verified record",
		},
		{
			name:       "verified record negative still clamped",
			rec:        types.FoodRecord{IsVerified: true, Nutrition: types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sodium: -0.1}},
			expected:   types.Nutrition{Calories: 53, Protein: 1, Carbs: 10, Fat: 1, Sodium: 0},
			changes:    1,
			flagReason: "negative sodium clamped to 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(t)
			rec := tt.rec
			rec.ID = 10
			rec.Name = "Test Product"
			rec.Brand = "Own Brand"

			changes, flag, err := c.Apply(&rec)
			require.NoError(t, err)
			assert.Len(t, changes, tt.changes)
			assert.Equal(t, tt.expected, rec.Nutrition)
			if tt.flagReason == "" {
				assert.Nil(t, flag)
			} else {
				require.NotNil(t, flag)
				assert.Contains(t, flag.Reason, tt.flagReason)
			}

			// Non-flagged output satisfies the invariants and is a fixed point
			if flag == nil {
				n := rec.Nutrition
				assert.LessOrEqual(t, n.Sugar, n.Carbs+SugarSlack)
				assert.LessOrEqual(t, n.Fiber, n.Carbs+SugarSlack)
				for _, col := range types.NutritionColumns {
					assert.GreaterOrEqual(t, n.Get(col), 0.0, col)
				}
				again, _, err := c.Apply(&rec)
				require.NoError(t, err)
				assert.Empty(t, again)
			}
		})
	}
}

func TestApply_MalformedRecordIsSkipped(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:       11,
		Name:     "Broken",
		Problems: []*types.MalformedInputError{{ID: 11, Field: types.ColCalories, Value: "n/a"}},
	}

	changes, flag, err := c.Apply(rec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrMalformedInput))
	assert.Empty(t, changes)
	assert.Nil(t, flag)
}

func TestApply_ClampFlagCarriesOver(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:        12,
		Name:      "Salted Butter",
		Brand:     "Own Brand",
		Nutrition: types.Nutrition{Calories: 9, Fat: 1, Sodium: -0.5},
	}

	changes, flag, err := c.Apply(rec)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.NotNil(t, flag)
	assert.Equal(t, ClampReason(types.ColSodium), flag.Reason)

	// Next run: the value is already 0, the queued reason keeps the record flagged
	rec.ReviewReason = flag.Reason
	changes, flag, err = c.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	require.NotNil(t, flag)
	assert.Equal(t, ClampReason(types.ColSodium), flag.Reason)

	// Cleared by a reviewer: nothing left to report
	rec.ReviewReason = ""
	changes, flag, err = c.Apply(rec)
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Nil(t, flag)
}

func TestApply_HeldClampIsNotReportedAsApplied(t *testing.T) {
	c := newTestChecker(t)
	rec := &types.FoodRecord{
		ID:        13,
		Name:      "Test Product",
		Brand:     "Own Brand",
		Nutrition: types.Nutrition{Calories: 40, Protein: -2, Carbs: 10, Fat: -1},
	}

	_, flag, err := c.Apply(rec)
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.Equal(t, ReasonMultipleClamps, flag.Reason)
}
