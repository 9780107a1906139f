package enrich

import (
	"context"
	"log/slog"
	"os"
)

// Lookup finds products in the Open Food Facts snapshot
type Lookup interface {
	// ByBarcode returns the product with an exact code match, or nil when there is none
	ByBarcode(ctx context.Context, barcode string) (*Product, error)
	TestConnection(ctx context.Context) error
	Close() error
}

// NewLookup creates the parquet lookup.
// Uses the mock lookup if QUERY_ENGINE_MOCK is set to true.
func NewLookup(parquetPath string, logger *slog.Logger) (Lookup, error) {
	if MockEnabled() {
		return NewMockLookup(logger), nil
	}
	return NewEngine(parquetPath, logger)
}

// MockEnabled reports whether QUERY_ENGINE_MOCK selects the mock lookup
func MockEnabled() bool {
	return os.Getenv("QUERY_ENGINE_MOCK") == "true"
}
