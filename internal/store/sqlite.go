package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/noot-app/foods-cleanup/internal/types"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS foods (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	brand TEXT,
	barcode TEXT,
	category TEXT,
	serving_size_g REAL,
	serving_description TEXT,
	calories REAL,
	protein REAL,
	carbs REAL,
	fat REAL,
	fiber REAL,
	sugar REAL,
	sodium REAL,
	vitamin_a REAL,
	vitamin_c REAL,
	vitamin_d REAL,
	calcium REAL,
	iron REAL,
	potassium REAL,
	ingredients TEXT,
	is_verified INTEGER DEFAULT 0,
	review_reason TEXT,
	created_at INTEGER,
	updated_at INTEGER
)`

// selectColumns is the read order used by scanRecord
var selectColumns = []string{
	"id",
	types.ColName, types.ColBrand, types.ColBarcode, types.ColCategory,
	types.ColServingSizeG, types.ColServingDescription,
	types.ColCalories, types.ColProtein, types.ColCarbs, types.ColFat, types.ColFiber, types.ColSugar, types.ColSodium,
	types.ColVitaminA, types.ColVitaminC, types.ColVitaminD, types.ColCalcium, types.ColIron, types.ColPotassium,
	types.ColIngredients, types.ColIsVerified, types.ColReviewReason,
	types.ColCreatedAt, types.ColUpdatedAt,
}

// writable lists the columns Update and Insert accept
var writable = func() map[string]bool {
	m := make(map[string]bool)
	for _, c := range selectColumns {
		switch c {
		case "id", types.ColCreatedAt, types.ColUpdatedAt:
			continue
		}
		m[c] = true
	}
	return m
}()

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the Store backed by a single SQLite database file
type SQLite struct {
	db   *sql.DB
	q    querier
	tx   *sql.Tx
	path string
	log  *slog.Logger
	now  func() time.Time
}

// Ensure SQLite implements Store interface
var _ Store = (*SQLite)(nil)

// Open opens the database at path. The file must already exist unless create is set.
func Open(path string, create bool, logger *slog.Logger) (*SQLite, error) {
	if !create {
		if _, err := os.Stat(path); err != nil {
			return nil, types.NewStoreIOError("open", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, types.NewStoreIOError("open", fmt.Errorf("failed to open sqlite: %w", err))
	}
	// One connection keeps transactions and plain statements on the same file handle
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:   db,
		q:    db,
		path: path,
		log:  logger.With("component", "store"),
		now:  time.Now,
	}

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, types.NewStoreIOError("open", err)
	}

	return s, nil
}

// Path returns the database file path
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable and the foods table is readable
func (s *SQLite) Ping(ctx context.Context) error {
	var count int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+Table).Scan(&count); err != nil {
		return types.NewStoreIOError("ping", err)
	}
	return nil
}

// EnsureSchema creates the foods table if it does not exist
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schema); err != nil {
		return types.NewStoreIOError("schema", fmt.Errorf("failed to create foods table: %w", err))
	}
	return nil
}

// FetchAll returns every record ordered by id
func (s *SQLite) FetchAll(ctx context.Context) ([]*types.FoodRecord, error) {
	return s.FetchByPredicate(ctx, nil)
}

// FetchByPredicate returns the records matching pred ordered by id. A nil pred matches all.
func (s *SQLite) FetchByPredicate(ctx context.Context, pred Predicate) ([]*types.FoodRecord, error) {
	start := time.Now()

	b := sq.Select(selectColumns...).From(Table).OrderBy("id")
	if pred != nil {
		b = b.Where(pred)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, types.NewStoreIOError("fetch", fmt.Errorf("failed to build query: %w", err))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		s.log.Error("Fetch query failed", "error", err, "duration", time.Since(start))
		return nil, types.NewStoreIOError("fetch", err)
	}
	defer rows.Close()

	var results []*types.FoodRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, types.NewStoreIOError("fetch", fmt.Errorf("scan failed: %w", err))
		}
		for _, p := range rec.Problems {
			s.log.Warn("malformed column value", "id", p.ID, "field", p.Field, "value", p.Value)
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewStoreIOError("fetch", fmt.Errorf("rows error: %w", err))
	}

	s.log.Debug("Fetch completed", "count", len(results), "duration", time.Since(start))
	return results, nil
}

// FetchByID returns one record, or nil when no row has that id
func (s *SQLite) FetchByID(ctx context.Context, id int64) (*types.FoodRecord, error) {
	recs, err := s.FetchByPredicate(ctx, ByIDs(id))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Update writes fields to one record and bumps updated_at. It returns the affected row count.
func (s *SQLite) Update(ctx context.Context, id int64, fields types.FieldValues) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}

	values, err := columnValues(fields)
	if err != nil {
		return 0, types.NewStoreIOError("update", err)
	}

	query, args, err := sq.Update(Table).
		SetMap(values).
		Set(types.ColUpdatedAt, sq.Expr("MAX(COALESCE(updated_at, 0) + 1, ?)", s.now().Unix())).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return 0, types.NewStoreIOError("update", fmt.Errorf("failed to build update: %w", err))
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, types.NewStoreIOError("update", fmt.Errorf("record %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewStoreIOError("update", err)
	}
	return n, nil
}

// Delete permanently removes one record. Ids are never reused.
func (s *SQLite) Delete(ctx context.Context, id int64) (int64, error) {
	query, args, err := sq.Delete(Table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return 0, types.NewStoreIOError("delete", fmt.Errorf("failed to build delete: %w", err))
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, types.NewStoreIOError("delete", fmt.Errorf("record %d: %w", id, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewStoreIOError("delete", err)
	}
	return n, nil
}

// Insert adds a record and returns its new id
func (s *SQLite) Insert(ctx context.Context, rec *types.FoodRecord) (int64, error) {
	fields := types.FieldValues{
		types.ColName:               rec.Name,
		types.ColBrand:              nullString(rec.Brand),
		types.ColBarcode:            nullString(rec.Barcode),
		types.ColCategory:           nullString(rec.Category),
		types.ColServingSizeG:       rec.ServingSizeG,
		types.ColServingDescription: nullString(rec.ServingDescription),
		types.ColIngredients:        nullString(rec.Ingredients),
		types.ColIsVerified:         rec.IsVerified,
		types.ColReviewReason:       nullString(rec.ReviewReason),
		types.ColVitaminA:           rec.Micros.VitaminA,
		types.ColVitaminC:           rec.Micros.VitaminC,
		types.ColVitaminD:           rec.Micros.VitaminD,
		types.ColCalcium:            rec.Micros.Calcium,
		types.ColIron:               rec.Micros.Iron,
		types.ColPotassium:          rec.Micros.Potassium,
	}
	for c, v := range rec.Nutrition.Fields() {
		fields[c] = v
	}

	values, err := columnValues(fields)
	if err != nil {
		return 0, types.NewStoreIOError("insert", err)
	}

	now := s.now().Unix()
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if created == 0 {
		created = now
	}
	if updated == 0 {
		updated = created
	}
	values[types.ColCreatedAt] = created
	values[types.ColUpdatedAt] = updated

	query, args, err := sq.Insert(Table).SetMap(values).ToSql()
	if err != nil {
		return 0, types.NewStoreIOError("insert", fmt.Errorf("failed to build insert: %w", err))
	}

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, types.NewStoreIOError("insert", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, types.NewStoreIOError("insert", err)
	}
	rec.ID = id
	return id, nil
}

// InTx runs fn inside a transaction. Nested calls reuse the open transaction.
func (s *SQLite) InTx(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewStoreIOError("begin", err)
	}

	txStore := *s
	txStore.q = tx
	txStore.tx = tx

	if err := fn(&txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return types.NewStoreIOError("commit", err)
	}
	return nil
}

// errRollback is returned by a transaction body to discard its writes without reporting a failure
var errRollback = errors.New("rollback requested")

// DryRun runs fn in a transaction that is always rolled back
func (s *SQLite) DryRun(ctx context.Context, fn func(Store) error) error {
	err := s.InTx(ctx, func(tx Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errRollback
	})
	if errors.Is(err, errRollback) {
		return nil
	}
	return err
}

// columnValues checks every column against the writable set and converts values to driver types
func columnValues(fields types.FieldValues) (map[string]any, error) {
	values := make(map[string]any, len(fields))
	for col, v := range fields {
		if !writable[col] {
			return nil, fmt.Errorf("column %q is not writable", col)
		}
		switch tv := v.(type) {
		case *float64:
			if tv == nil {
				values[col] = nil
			} else {
				values[col] = *tv
			}
		case bool:
			if tv {
				values[col] = 1
			} else {
				values[col] = 0
			}
		case *string:
			if tv == nil {
				values[col] = nil
			} else {
				values[col] = *tv
			}
		case sql.NullString:
			if tv.Valid {
				values[col] = tv.String
			} else {
				values[col] = nil
			}
		default:
			values[col] = v
		}
	}
	if v, ok := values[types.ColName]; ok {
		if s, _ := v.(string); strings.TrimSpace(s) == "" {
			return nil, errors.New("name must not be empty")
		}
	}
	return values, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanRecord maps one row to a FoodRecord. Columns that cannot be parsed are
// recorded in Problems and left at their zero value so the row is still usable.
func scanRecord(rows *sql.Rows) (*types.FoodRecord, error) {
	var id int64
	var name, brand, barcode, category sql.NullString
	var servingDesc, ingredients, reviewReason sql.NullString
	var serving, verified, createdAt, updatedAt any
	var macros [7]any
	var micros [6]any

	dest := []any{
		&id, &name, &brand, &barcode, &category,
		&serving, &servingDesc,
	}
	for i := range macros {
		dest = append(dest, &macros[i])
	}
	for i := range micros {
		dest = append(dest, &micros[i])
	}
	dest = append(dest, &ingredients, &verified, &reviewReason, &createdAt, &updatedAt)

	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	rec := &types.FoodRecord{
		ID:                 id,
		Name:               name.String,
		Brand:              brand.String,
		Barcode:            barcode.String,
		Category:           category.String,
		ServingDescription: servingDesc.String,
		Ingredients:        ingredients.String,
		ReviewReason:       reviewReason.String,
	}

	problem := func(col string, v any) {
		rec.Problems = append(rec.Problems, &types.MalformedInputError{ID: id, Field: col, Value: v})
	}

	if v, ok := parseFloat(serving); !ok {
		problem(types.ColServingSizeG, serving)
	} else {
		rec.ServingSizeG = v
	}

	for i, col := range types.NutritionColumns {
		v, ok := parseFloat(macros[i])
		if !ok {
			problem(col, macros[i])
			continue
		}
		if v != nil {
			rec.Nutrition.Set(col, *v)
		}
	}

	microDst := []*float64{
		&rec.Micros.VitaminA, &rec.Micros.VitaminC, &rec.Micros.VitaminD,
		&rec.Micros.Calcium, &rec.Micros.Iron, &rec.Micros.Potassium,
	}
	microCols := []string{types.ColVitaminA, types.ColVitaminC, types.ColVitaminD, types.ColCalcium, types.ColIron, types.ColPotassium}
	for i, dst := range microDst {
		v, ok := parseFloat(micros[i])
		if !ok {
			problem(microCols[i], micros[i])
			continue
		}
		if v != nil {
			*dst = *v
		}
	}

	if b, ok := parseBool(verified); ok {
		rec.IsVerified = b
	} else {
		problem(types.ColIsVerified, verified)
	}

	if v, ok := parseFloat(createdAt); ok && v != nil {
		rec.CreatedAt = int64(*v)
	}
	if v, ok := parseFloat(updatedAt); ok && v != nil {
		rec.UpdatedAt = int64(*v)
	}

	return rec, nil
}

// parseFloat accepts the numeric shapes SQLite can hand back. A NULL is (nil, true).
func parseFloat(v any) (*float64, bool) {
	var f float64
	switch tv := v.(type) {
	case nil:
		return nil, true
	case float64:
		f = tv
	case int64:
		f = float64(tv)
	case []byte:
		return parseFloat(string(tv))
	case string:
		s := strings.TrimSpace(tv)
		if s == "" {
			return nil, true
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false
		}
		f = parsed
	default:
		return nil, false
	}
	return &f, true
}

func parseBool(v any) (bool, bool) {
	switch tv := v.(type) {
	case nil:
		return false, true
	case bool:
		return tv, true
	case int64:
		return tv != 0, true
	case float64:
		return tv != 0, true
	case []byte:
		return parseBool(string(tv))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(tv))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}
