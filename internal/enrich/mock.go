package enrich

import (
	"context"
	"log/slog"
)

// MockLookup is an in-memory Lookup for tests
type MockLookup struct {
	products []Product
	err      error
	calls    []string
	log      *slog.Logger
}

// NewMockLookup creates a mock lookup seeded with a few products
func NewMockLookup(logger *slog.Logger) *MockLookup {
	return &MockLookup{
		log: logger,
		products: []Product{
			{
				Code:        "3017620422003",
				ProductName: "Nutella",
				Brands:      "Ferrero",
				Nutriments: map[string]any{
					"energy":        2255,
					"fat":           30.9,
					"saturated-fat": 10.6,
					"carbohydrates": 57.5,
					"sugars":        56.3,
					"fiber":         0,
					"proteins":      6.3,
					"salt":          0.107,
				},
				Link:            "https://world.openfoodfacts.org/product/3017620422003/nutella-ferrero",
				Ingredients:     map[string]any{"text": "sugar, palm oil, hazelnuts 13%, skimmed milk powder 8.7%, fat-reduced cocoa 7.4%"},
				ServingQuantity: 15,
				ServingSize:     "15 g",
			},
			{
				Code:        "5000112637922",
				ProductName: "Coca-Cola Zero",
				Brands:      "Coca-Cola",
				Nutriments: map[string]any{
					"energy-kcal_100g":   0.2,
					"proteins_100g":      0,
					"carbohydrates_100g": 0,
					"fat_100g":           0,
					"fiber_100g":         0,
					"sugars_100g":        0,
					"sodium_100g":        0.01,
				},
				ServingQuantity:     "330",
				ServingQuantityUnit: "ml",
			},
			{
				Code:        "1234567890123",
				ProductName: "Test Chocolate",
				Brands:      "Ferrero",
				Nutriments: map[string]any{
					"energy": 2000,
					"fat":    25.0,
				},
				Ingredients: map[string]any{"text": "cocoa, sugar"},
			},
		},
	}
}

// ByBarcode returns the seeded product with a matching code
func (m *MockLookup) ByBarcode(ctx context.Context, barcode string) (*Product, error) {
	m.calls = append(m.calls, barcode)
	if m.err != nil {
		return nil, m.err
	}
	for _, p := range m.products {
		if p.Code == barcode {
			return &p, nil
		}
	}
	return nil, nil
}

// TestConnection returns the configured error
func (m *MockLookup) TestConnection(ctx context.Context) error {
	return m.err
}

// Close is a no-op
func (m *MockLookup) Close() error {
	return nil
}

// SetError sets an error to be returned by every call
func (m *MockLookup) SetError(err error) {
	m.err = err
}

// SetProducts replaces the seeded products
func (m *MockLookup) SetProducts(products []Product) {
	m.products = products
}

// Calls returns the barcodes looked up so far
func (m *MockLookup) Calls() []string {
	return m.calls
}
