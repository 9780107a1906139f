package types

import (
	"strings"
)

// Nutrition holds macronutrients per 100 g (or 100 ml) of product
type Nutrition struct {
	Calories float64 `json:"calories" yaml:"calories"` // kcal
	Protein  float64 `json:"protein" yaml:"protein"`
	Carbs    float64 `json:"carbs" yaml:"carbs"`
	Fat      float64 `json:"fat" yaml:"fat"`
	Fiber    float64 `json:"fiber" yaml:"fiber"`
	Sugar    float64 `json:"sugar" yaml:"sugar"`
	Sodium   float64 `json:"sodium" yaml:"sodium"`
}

// Micronutrients holds optional vitamin and mineral values per 100 g
type Micronutrients struct {
	VitaminA  float64 `json:"vitamin_a,omitempty"`
	VitaminC  float64 `json:"vitamin_c,omitempty"`
	VitaminD  float64 `json:"vitamin_d,omitempty"`
	Calcium   float64 `json:"calcium,omitempty"`
	Iron      float64 `json:"iron,omitempty"`
	Potassium float64 `json:"potassium,omitempty"`
}

// AnyNonZero reports whether at least one micronutrient is recorded
func (m Micronutrients) AnyNonZero() bool {
	return m.VitaminA != 0 || m.VitaminC != 0 || m.VitaminD != 0 ||
		m.Calcium != 0 || m.Iron != 0 || m.Potassium != 0
}

// FoodRecord is one packaged-food product row of the foods table.
// This is the canonical record type used by every pipeline stage.
type FoodRecord struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	Brand              string         `json:"brand"`
	Barcode            string         `json:"barcode,omitempty"`
	Category           string         `json:"category,omitempty"`
	ServingSizeG       *float64       `json:"serving_size_g"`
	ServingDescription string         `json:"serving_description,omitempty"`
	Nutrition          Nutrition      `json:"nutrition"`
	Micros             Micronutrients `json:"micronutrients"`
	Ingredients        string         `json:"ingredients,omitempty"`
	IsVerified         bool           `json:"is_verified"`
	ReviewReason       string         `json:"review_reason,omitempty"`
	CreatedAt          int64          `json:"created_at"`
	UpdatedAt          int64          `json:"updated_at"`

	// Problems lists columns that could not be parsed when the row was read
	Problems []*MalformedInputError `json:"-"`
}

// HasServingSize reports whether a positive serving size is stored
func (r *FoodRecord) HasServingSize() bool {
	return r.ServingSizeG != nil && *r.ServingSizeG > 0
}

// Malformed returns the first parse problem for any of the given columns, or nil
func (r *FoodRecord) Malformed(columns ...string) *MalformedInputError {
	for _, p := range r.Problems {
		if len(columns) == 0 {
			return p
		}
		for _, c := range columns {
			if p.Field == c {
				return p
			}
		}
	}
	return nil
}

// CanonicalKey returns the (name, brand) pair used to group duplicate candidates
func (r *FoodRecord) CanonicalKey() [2]string {
	return [2]string{
		strings.ToLower(strings.TrimSpace(r.Name)),
		strings.ToLower(strings.TrimSpace(r.Brand)),
	}
}

// Column names of the foods table
const (
	ColName               = "name"
	ColBrand              = "brand"
	ColBarcode            = "barcode"
	ColCategory           = "category"
	ColServingSizeG       = "serving_size_g"
	ColServingDescription = "serving_description"
	ColCalories           = "calories"
	ColProtein            = "protein"
	ColCarbs              = "carbs"
	ColFat                = "fat"
	ColFiber              = "fiber"
	ColSugar              = "sugar"
	ColSodium             = "sodium"
	ColVitaminA           = "vitamin_a"
	ColVitaminC           = "vitamin_c"
	ColVitaminD           = "vitamin_d"
	ColCalcium            = "calcium"
	ColIron               = "iron"
	ColPotassium          = "potassium"
	ColIngredients        = "ingredients"
	ColIsVerified         = "is_verified"
	ColReviewReason       = "review_reason"
	ColCreatedAt          = "created_at"
	ColUpdatedAt          = "updated_at"
)

// NutritionColumns lists the per-100g macro columns in report order
var NutritionColumns = []string{ColCalories, ColProtein, ColCarbs, ColFat, ColFiber, ColSugar, ColSodium}

// Get returns the macro value stored under a column name
func (n Nutrition) Get(column string) float64 {
	switch column {
	case ColCalories:
		return n.Calories
	case ColProtein:
		return n.Protein
	case ColCarbs:
		return n.Carbs
	case ColFat:
		return n.Fat
	case ColFiber:
		return n.Fiber
	case ColSugar:
		return n.Sugar
	case ColSodium:
		return n.Sodium
	}
	return 0
}

// Set stores a macro value under a column name
func (n *Nutrition) Set(column string, v float64) {
	switch column {
	case ColCalories:
		n.Calories = v
	case ColProtein:
		n.Protein = v
	case ColCarbs:
		n.Carbs = v
	case ColFat:
		n.Fat = v
	case ColFiber:
		n.Fiber = v
	case ColSugar:
		n.Sugar = v
	case ColSodium:
		n.Sodium = v
	}
}

// Fields returns the nutrition as column/value pairs suitable for a store update
func (n Nutrition) Fields() FieldValues {
	fv := make(FieldValues, len(NutritionColumns))
	for _, c := range NutritionColumns {
		fv[c] = n.Get(c)
	}
	return fv
}

// FieldValues maps foods columns to new values for a single update
type FieldValues map[string]any
