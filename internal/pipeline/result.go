package pipeline

import (
	"sort"
	"time"

	"github.com/noot-app/foods-cleanup/internal/types"
)

// Stage names in run order
const (
	StageText      = "text"
	StageServing   = "serving"
	StageNutrition = "nutrition"
	StageDedupe    = "dedupe"
	StageRecheck   = "recheck"
	StageReview    = "review_sync"
)

// Correction is one field rewritten on one record
type Correction struct {
	ID     int64  `json:"id"`
	Field  string `json:"field"`
	Old    any    `json:"old"`
	New    any    `json:"new"`
	Reason string `json:"reason,omitempty"`
}

// Flagged is a record left for manual review
type Flagged struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// StageResult is what one stage did to the store
type StageResult struct {
	Stage     string        `json:"stage"`
	Examined  int           `json:"examined"`
	Corrected []Correction  `json:"corrected"`
	Flagged   []Flagged     `json:"flagged"`
	Skipped   []Flagged     `json:"skipped,omitempty"`
	Deleted   []int64       `json:"deleted,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

func (r *StageResult) addChanges(id int64, changes []types.Change) {
	for _, c := range changes {
		r.Corrected = append(r.Corrected, Correction{ID: id, Field: c.Field, Old: c.Old, New: c.New, Reason: c.Reason})
	}
}

// ChangedRecords returns how many distinct records the stage wrote to
func (r *StageResult) ChangedRecords() int {
	ids := make(map[int64]bool)
	for _, c := range r.Corrected {
		ids[c.ID] = true
	}
	return len(ids)
}

// Totals is the final three-bucket summary plus deletions
type Totals struct {
	Records   int `json:"records"`
	Corrected int `json:"corrected"`
	Unchanged int `json:"unchanged"`
	Flagged   int `json:"flagged"`
	Deleted   int `json:"deleted"`
}

// Report describes one pipeline run
type Report struct {
	RunID        string        `json:"run_id"`
	StorePath    string        `json:"store_path"`
	BackupPath   string        `json:"backup_path,omitempty"`
	RulesVersion string        `json:"rules_version"`
	DryRun       bool          `json:"dry_run"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Stages       []StageResult `json:"stages"`
	Totals       Totals        `json:"totals"`
	// Review lists every record left in the manual review queue, by id
	Review []Flagged `json:"review"`
}

// Stage returns the result for a stage name, or nil
func (r *Report) Stage(name string) *StageResult {
	for i := range r.Stages {
		if r.Stages[i].Stage == name {
			return &r.Stages[i]
		}
	}
	return nil
}

// summarize fills Totals and Review. Flagged wins over corrected; deleted records
// are counted on their own.
func (r *Report) summarize(records int, review map[int64]string) {
	deleted := make(map[int64]bool)
	corrected := make(map[int64]bool)
	for _, s := range r.Stages {
		for _, id := range s.Deleted {
			deleted[id] = true
		}
		for _, c := range s.Corrected {
			corrected[c.ID] = true
		}
	}

	r.Review = r.Review[:0]
	for id, reason := range review {
		if !deleted[id] {
			r.Review = append(r.Review, Flagged{ID: id, Reason: reason})
		}
	}
	sort.Slice(r.Review, func(i, j int) bool { return r.Review[i].ID < r.Review[j].ID })

	t := Totals{Records: records, Deleted: len(deleted), Flagged: len(r.Review)}
	for id := range corrected {
		if deleted[id] {
			continue
		}
		if _, flagged := review[id]; flagged {
			continue
		}
		t.Corrected++
	}
	t.Unchanged = t.Records - t.Deleted - t.Flagged - t.Corrected
	r.Totals = t
}
