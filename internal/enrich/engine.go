package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

// Engine runs DuckDB queries against the parquet snapshot
type Engine struct {
	db          *sql.DB
	parquetPath string
	log         *slog.Logger
}

var _ Lookup = (*Engine)(nil)

// Nested columns are cast to JSON text so one scan path covers every snapshot layout
const barcodeQuery = `
	SELECT
		CAST(code AS VARCHAR),
		CAST(to_json(product_name) AS VARCHAR),
		CAST(brands AS VARCHAR),
		CAST(to_json(nutriments) AS VARCHAR),
		CAST(to_json(ingredients) AS VARCHAR),
		CAST(serving_quantity AS VARCHAR),
		CAST(serving_size AS VARCHAR),
		CAST(link AS VARCHAR)
	FROM read_parquet(?)
	WHERE code = ?
	LIMIT 1`

// NewEngine opens an in-memory DuckDB for querying the parquet file
func NewEngine(parquetPath string, logger *slog.Logger) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	return &Engine{
		db:          db,
		parquetPath: parquetPath,
		log:         logger.With("component", "lookup"),
	}, nil
}

// Close closes the database connection
func (e *Engine) Close() error {
	return e.db.Close()
}

// ByBarcode looks a product up by exact barcode
func (e *Engine) ByBarcode(ctx context.Context, barcode string) (*Product, error) {
	start := time.Now()
	e.log.Debug("ByBarcode starting", "barcode", barcode)

	var code, name, brands, nutriments, ingredients, quantity, size, link sql.NullString
	err := e.db.QueryRowContext(ctx, barcodeQuery, e.parquetPath, barcode).
		Scan(&code, &name, &brands, &nutriments, &ingredients, &quantity, &size, &link)
	if errors.Is(err, sql.ErrNoRows) {
		e.log.Debug("No product found for barcode", "barcode", barcode, "duration", time.Since(start))
		return nil, nil
	}
	if err != nil {
		e.log.Error("DuckDB barcode query failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("barcode query failed: %w", err)
	}

	p := &Product{
		Code:        code.String,
		ProductName: localizedText(name.String),
		Brands:      brands.String,
		Nutriments:  decodeNutriments(nutriments.String),
		ServingSize: size.String,
		Link:        link.String,
	}
	if quantity.Valid {
		p.ServingQuantity = quantity.String
	}
	if ingredients.Valid && ingredients.String != "" {
		var v any
		if err := json.Unmarshal([]byte(ingredients.String), &v); err != nil {
			e.log.Debug("Failed to parse ingredients JSON", "error", err, "code", p.Code)
			v = ingredients.String
		}
		p.Ingredients = v
	}

	e.log.Debug("ByBarcode completed", "code", p.Code, "duration", time.Since(start))
	return p, nil
}

// TestConnection checks that the parquet file can be read
func (e *Engine) TestConnection(ctx context.Context) error {
	start := time.Now()

	var count int64
	if err := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM read_parquet(?)`, e.parquetPath).Scan(&count); err != nil {
		e.log.Error("Connection test failed", "error", err, "duration", time.Since(start))
		return fmt.Errorf("connection test failed: %w", err)
	}

	e.log.Info("Connection test successful", "total_records", count, "duration", time.Since(start))
	return nil
}

// nutriment is one entry of the list-shaped nutriments column
type nutriment struct {
	Name    string   `json:"name"`
	Per100g *float64 `json:"100g"`
	Unit    *string  `json:"unit"`
}

// decodeNutriments accepts either a flat object or a list of named entries
// and returns a flat map keyed like "fat_100g"
func decodeNutriments(raw string) map[string]any {
	out := make(map[string]any)
	if raw == "" || raw == "null" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out
	}

	var list []nutriment
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return out
	}
	for _, n := range list {
		if n.Per100g == nil || n.Name == "" {
			continue
		}
		key := n.Name
		// "energy" entries carry their unit; everything else is grams
		if n.Name == "energy" && n.Unit != nil && strings.EqualFold(*n.Unit, "kcal") {
			key = "energy-kcal"
		}
		out[key+"_100g"] = *n.Per100g
	}
	return out
}

// localizedText picks the main or English text from a list of {lang, text} entries
func localizedText(raw string) string {
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}

	var entries []struct {
		Lang string `json:"lang"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return raw
	}
	best := ""
	for _, e := range entries {
		switch {
		case e.Lang == "main":
			return e.Text
		case e.Lang == "en" || best == "":
			best = e.Text
		}
	}
	return best
}
