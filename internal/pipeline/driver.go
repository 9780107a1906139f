package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/noot-app/foods-cleanup/internal/dedupe"
	"github.com/noot-app/foods-cleanup/internal/normalize"
	"github.com/noot-app/foods-cleanup/internal/nutrition"
	"github.com/noot-app/foods-cleanup/internal/rules"
	"github.com/noot-app/foods-cleanup/internal/serving"
	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/noot-app/foods-cleanup/internal/types"
)

// TxMode selects how writes are grouped into transactions
type TxMode string

const (
	// TxRecord commits each record's writes on their own
	TxRecord TxMode = "record"
	// TxStage commits all of a stage's writes together
	TxStage TxMode = "stage"
)

// ParseTxMode converts a configuration string to a TxMode
func ParseTxMode(s string) (TxMode, error) {
	switch TxMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TxRecord:
		return TxRecord, nil
	case TxStage:
		return TxStage, nil
	}
	return "", fmt.Errorf("unknown transaction mode %q (want %s or %s)", s, TxRecord, TxStage)
}

// Backend is the store the driver owns for a run
type Backend interface {
	store.Store
	Path() string
	Backup(ctx context.Context, dir, runID string) (string, error)
	Lock(force bool) (func(), error)
	DryRun(ctx context.Context, fn func(store.Store) error) error
}

// Options tune a pipeline run
type Options struct {
	ServingPolicy serving.Policy
	MergeFields   bool
	TxMode        TxMode
	BackupDir     string
	DryRun        bool
	ForceLock     bool
}

// Driver runs the cleanup stages in their fixed order against one store
type Driver struct {
	backend      Backend
	normalizer   *normalize.Normalizer
	resolver     *serving.Resolver
	checker      *nutrition.Checker
	deduper      *dedupe.Resolver
	rulesVersion string
	opts         Options
	log          *slog.Logger
	newRunID     func() string
}

// New builds a driver and its components from one set of rule tables
func New(backend Backend, tables *rules.Tables, opts Options, logger *slog.Logger) *Driver {
	if opts.TxMode == "" {
		opts.TxMode = TxRecord
	}
	if opts.ServingPolicy == "" {
		opts.ServingPolicy = serving.PolicyFlagForReview
	}
	return &Driver{
		backend:      backend,
		normalizer:   normalize.New(tables),
		resolver:     serving.New(tables, opts.ServingPolicy),
		checker:      nutrition.New(tables, logger),
		deduper:      dedupe.New(opts.MergeFields, logger),
		rulesVersion: tables.Version,
		opts:         opts,
		log:          logger.With("component", "pipeline"),
		newRunID:     uuid.NewString,
	}
}

// run carries per-run state between stages
type run struct {
	log     *slog.Logger
	records int
	// flags holds the review reasons raised this run, by record id
	flags map[int64][]string
}

func (r *run) flag(id int64, reason string) {
	if !slices.Contains(r.flags[id], reason) {
		r.flags[id] = append(r.flags[id], reason)
	}
}

// Run backs the store up and runs every stage. Record-level problems are
// reported in the result; store failures abort the run and are returned.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{
		RunID:        d.newRunID(),
		StorePath:    d.backend.Path(),
		RulesVersion: d.rulesVersion,
		DryRun:       d.opts.DryRun,
		StartedAt:    start.UTC(),
	}
	r := &run{
		log:   d.log.With("run_id", report.RunID),
		flags: make(map[int64][]string),
	}
	r.log.Info("🚀 Starting cleanup run", "store", report.StorePath, "rules_version", d.rulesVersion, "dry_run", d.opts.DryRun, "tx_mode", d.opts.TxMode)

	unlock, err := d.backend.Lock(d.opts.ForceLock)
	if err != nil {
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	defer unlock()

	if !d.opts.DryRun {
		path, err := d.backend.Backup(ctx, d.opts.BackupDir, report.RunID)
		if err != nil {
			return nil, fmt.Errorf("failed to back up store, nothing was changed: %w", err)
		}
		report.BackupPath = path
	}

	body := func(st store.Store) error {
		return d.runStages(ctx, st, r, report)
	}
	if d.opts.DryRun {
		err = d.backend.DryRun(ctx, body)
	} else {
		err = body(d.backend)
	}
	report.Duration = time.Since(start)
	if err != nil {
		r.log.Error("Run aborted", "error", err, "duration", report.Duration)
		return report, err
	}

	review := make(map[int64]string, len(r.flags))
	for id, reasons := range r.flags {
		review[id] = strings.Join(reasons, "; ")
	}
	report.summarize(r.records, review)

	r.log.Info("🏁 Cleanup run complete",
		"records", report.Totals.Records,
		"corrected", report.Totals.Corrected,
		"unchanged", report.Totals.Unchanged,
		"flagged", report.Totals.Flagged,
		"deleted", report.Totals.Deleted,
		"duration", report.Duration)
	return report, nil
}

type stageFunc func(ctx context.Context, st store.Store, r *run, res *StageResult) error

func (d *Driver) runStages(ctx context.Context, st store.Store, r *run, report *Report) error {
	var merged []int64

	stages := []struct {
		name string
		fn   stageFunc
	}{
		{StageText, d.textStage},
		{StageServing, d.servingStage},
		{StageNutrition, d.nutritionStage},
		{StageDedupe, func(ctx context.Context, st store.Store, r *run, res *StageResult) error {
			ids, err := d.dedupeStage(ctx, st, r, res)
			merged = ids
			return err
		}},
		{StageRecheck, func(ctx context.Context, st store.Store, r *run, res *StageResult) error {
			return d.recheckStage(ctx, st, r, res, merged)
		}},
		{StageReview, d.reviewStage},
	}

	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.name == StageRecheck && len(merged) == 0 {
			continue
		}

		start := time.Now()
		res := StageResult{Stage: s.name}
		var err error
		if d.opts.TxMode == TxStage {
			err = st.InTx(ctx, func(tx store.Store) error { return s.fn(ctx, tx, r, &res) })
		} else {
			err = s.fn(ctx, st, r, &res)
		}
		res.Duration = time.Since(start)
		if err != nil {
			return fmt.Errorf("stage %s failed: %w", s.name, err)
		}

		if s.name == StageText {
			r.records = res.Examined
		}
		report.Stages = append(report.Stages, res)
		r.log.Info("✅ Stage complete",
			"stage", s.name,
			"examined", res.Examined,
			"changed", res.ChangedRecords(),
			"flagged", len(res.Flagged),
			"skipped", len(res.Skipped),
			"deleted", len(res.Deleted),
			"duration", res.Duration)
	}
	return nil
}

func (d *Driver) textStage(ctx context.Context, st store.Store, r *run, res *StageResult) error {
	recs, err := st.FetchAll(ctx)
	if err != nil {
		return err
	}
	res.Examined = len(recs)

	for _, rec := range recs {
		if err := write(ctx, st, rec.ID, d.normalizer.Apply(rec), res); err != nil {
			return err
		}
	}
	return nil
}

// applier is the shape shared by the serving resolver and the nutrition checker
type applier func(rec *types.FoodRecord) ([]types.Change, *types.Flag, error)

func (d *Driver) servingStage(ctx context.Context, st store.Store, r *run, res *StageResult) error {
	return d.applyAll(ctx, st, r, res, nil, d.resolver.Apply)
}

func (d *Driver) nutritionStage(ctx context.Context, st store.Store, r *run, res *StageResult) error {
	return d.applyAll(ctx, st, r, res, nil, d.checker.Apply)
}

// applyAll runs fn over the selected records (all when pred is nil) and writes the results
func (d *Driver) applyAll(ctx context.Context, st store.Store, r *run, res *StageResult, pred store.Predicate, fns ...applier) error {
	recs, err := st.FetchByPredicate(ctx, pred)
	if err != nil {
		return err
	}
	res.Examined += len(recs)

	for _, rec := range recs {
		for _, fn := range fns {
			changes, flag, err := fn(rec)
			if err != nil {
				// Record-level problem: skip this record for the stage and keep going
				r.log.Warn("record skipped", "stage", res.Stage, "id", rec.ID, "error", err)
				res.Skipped = append(res.Skipped, Flagged{ID: rec.ID, Reason: err.Error()})
				r.flag(rec.ID, err.Error())
				continue
			}
			if flag != nil {
				res.Flagged = append(res.Flagged, Flagged{ID: rec.ID, Reason: flag.Reason})
				r.flag(rec.ID, flag.Reason)
			}
			if err := write(ctx, st, rec.ID, changes, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// dedupeStage deletes duplicate losers and returns the ids of survivors that received merged fields
func (d *Driver) dedupeStage(ctx context.Context, st store.Store, r *run, res *StageResult) ([]int64, error) {
	recs, err := st.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	res.Examined = len(recs)

	var merged []int64
	for _, dec := range d.deduper.Plan(recs) {
		err := st.InTx(ctx, func(tx store.Store) error {
			if err := write(ctx, tx, dec.Survivor.ID, dec.Merged, res); err != nil {
				return err
			}
			for _, id := range dec.LoserIDs() {
				if _, err := tx.Delete(ctx, id); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}

		for _, id := range dec.LoserIDs() {
			res.Deleted = append(res.Deleted, id)
			delete(r.flags, id)
		}
		if len(dec.Merged) > 0 {
			merged = append(merged, dec.Survivor.ID)
		}
		r.log.Debug("duplicates removed", "survivor", dec.Survivor.ID, "deleted", dec.LoserIDs())
	}
	return merged, nil
}

// recheckStage re-validates survivors whose fields changed in a merge so the next run has nothing left to do
func (d *Driver) recheckStage(ctx context.Context, st store.Store, r *run, res *StageResult, ids []int64) error {
	for _, id := range ids {
		delete(r.flags, id)
	}
	return d.applyAll(ctx, st, r, res, store.ByIDs(ids...), d.resolver.Apply, d.checker.Apply)
}

// reviewStage makes review_reason match the flags raised this run
func (d *Driver) reviewStage(ctx context.Context, st store.Store, r *run, res *StageResult) error {
	recs, err := st.FetchAll(ctx)
	if err != nil {
		return err
	}
	res.Examined = len(recs)

	for _, rec := range recs {
		want := strings.Join(r.flags[rec.ID], "; ")
		if want != "" {
			res.Flagged = append(res.Flagged, Flagged{ID: rec.ID, Reason: want})
		}
		if rec.ReviewReason == want {
			continue
		}

		var value any
		if want != "" {
			value = want
		}
		change := types.Change{Field: types.ColReviewReason, Old: rec.ReviewReason, New: value, Reason: "review queue sync"}
		if err := write(ctx, st, rec.ID, []types.Change{change}, res); err != nil {
			return err
		}
	}
	return nil
}

func write(ctx context.Context, st store.Store, id int64, changes []types.Change, res *StageResult) error {
	if len(changes) == 0 {
		return nil
	}
	if _, err := st.Update(ctx, id, types.ChangeFields(changes)); err != nil {
		return err
	}
	res.addChanges(id, changes)
	return nil
}
