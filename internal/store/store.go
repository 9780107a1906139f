package store

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/noot-app/foods-cleanup/internal/types"
)

// Table is the name of the foods table
const Table = "foods"

// Predicate selects a subset of records
type Predicate = sq.Sqlizer

// Store is the record store contract every pipeline stage and collaborator writes through
type Store interface {
	FetchAll(ctx context.Context) ([]*types.FoodRecord, error)
	FetchByPredicate(ctx context.Context, pred Predicate) ([]*types.FoodRecord, error)
	FetchByID(ctx context.Context, id int64) (*types.FoodRecord, error)
	Update(ctx context.Context, id int64, fields types.FieldValues) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
	// InTx runs fn against a transaction-scoped store; fn's writes commit together or not at all
	InTx(ctx context.Context, fn func(Store) error) error
}

// NeedsReview selects records in the manual review queue
func NeedsReview() Predicate {
	return sq.And{sq.NotEq{types.ColReviewReason: nil}, sq.NotEq{types.ColReviewReason: ""}}
}

// MissingServingSize selects records without a usable serving size
func MissingServingSize() Predicate {
	return sq.Or{sq.Eq{types.ColServingSizeG: nil}, sq.LtOrEq{types.ColServingSizeG: 0}}
}

// HasBarcode selects records carrying a barcode
func HasBarcode() Predicate {
	return sq.And{sq.NotEq{types.ColBarcode: nil}, sq.NotEq{types.ColBarcode: ""}}
}

// ByIDs selects records by primary key
func ByIDs(ids ...int64) Predicate {
	return sq.Eq{"id": ids}
}

// All combines predicates with AND
func All(preds ...Predicate) Predicate {
	and := sq.And{}
	for _, p := range preds {
		and = append(and, p)
	}
	return and
}
