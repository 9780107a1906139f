package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/noot-app/foods-cleanup/internal/types"
)

// Outcome of one record
const (
	OutcomeEnriched   = "enriched"
	OutcomeNotFound   = "not_found"
	OutcomeIncomplete = "incomplete"
	OutcomeVerified   = "verified"
	OutcomeMalformed  = "malformed"
)

// RecordResult is what enrichment did with one review-queue record
type RecordResult struct {
	ID      int64    `json:"id"`
	Barcode string   `json:"barcode"`
	Outcome string   `json:"outcome"`
	Fields  []string `json:"fields,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Result summarizes an enrichment pass
type Result struct {
	Examined int            `json:"examined"`
	Enriched int            `json:"enriched"`
	Records  []RecordResult `json:"records"`
	Duration time.Duration  `json:"duration_ns"`
}

// Enricher fills review-queue records from the Open Food Facts snapshot
type Enricher struct {
	store  store.Store
	lookup Lookup
	log    *slog.Logger
}

// NewEnricher creates an enricher writing through st
func NewEnricher(st store.Store, lookup Lookup, logger *slog.Logger) *Enricher {
	return &Enricher{
		store:  st,
		lookup: lookup,
		log:    logger.With("component", "enrich"),
	}
}

// Run looks up every review-queue record that has a barcode. Only a complete
// per-100g set is written, together with a serving size and ingredients when
// the record lacks them. Verified records are left alone.
func (e *Enricher) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	recs, err := e.store.FetchByPredicate(ctx, store.All(store.NeedsReview(), store.HasBarcode()))
	if err != nil {
		return nil, err
	}
	e.log.Info("🔎 Starting enrichment", "candidates", len(recs))

	res := &Result{Examined: len(recs)}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rr, err := e.enrich(ctx, rec)
		if err != nil {
			return res, err
		}
		if rr.Outcome == OutcomeEnriched {
			res.Enriched++
		}
		res.Records = append(res.Records, rr)
	}

	res.Duration = time.Since(start)
	e.log.Info("🏁 Enrichment complete", "examined", res.Examined, "enriched", res.Enriched, "duration", res.Duration)
	return res, nil
}

func (e *Enricher) enrich(ctx context.Context, rec *types.FoodRecord) (RecordResult, error) {
	barcode := strings.TrimSpace(rec.Barcode)
	rr := RecordResult{ID: rec.ID, Barcode: barcode}

	if p := rec.Malformed(types.ColBarcode, types.ColServingSizeG); p != nil {
		rr.Outcome = OutcomeMalformed
		e.log.Warn("record skipped", "id", rec.ID, "error", p)
		return rr, nil
	}
	if rec.IsVerified {
		rr.Outcome = OutcomeVerified
		return rr, nil
	}

	p, err := e.lookup.ByBarcode(ctx, barcode)
	if err != nil {
		return rr, fmt.Errorf("failed to look up barcode %s: %w", barcode, err)
	}
	if p == nil {
		rr.Outcome = OutcomeNotFound
		return rr, nil
	}

	n, missing := p.Per100g()
	if len(missing) > 0 {
		rr.Outcome = OutcomeIncomplete
		rr.Missing = missing
		e.log.Debug("incomplete nutrition", "id", rec.ID, "product", p.String(), "missing", missing)
		return rr, nil
	}

	fields := n.Fields()
	if !rec.HasServingSize() {
		if g, ok := p.ServingGrams(); ok {
			fields[types.ColServingSizeG] = g
		}
	}
	if strings.TrimSpace(rec.Ingredients) == "" {
		if text := p.IngredientsText(); text != "" {
			fields[types.ColIngredients] = text
		}
	}

	if _, err := e.store.Update(ctx, rec.ID, fields); err != nil {
		return rr, err
	}
	rr.Outcome = OutcomeEnriched
	for _, c := range slices.Concat(types.NutritionColumns, []string{types.ColServingSizeG, types.ColIngredients}) {
		if _, ok := fields[c]; ok {
			rr.Fields = append(rr.Fields, c)
		}
	}
	e.log.Info("record enriched", "id", rec.ID, "product", p.String(), "fields", len(rr.Fields))
	return rr, nil
}
