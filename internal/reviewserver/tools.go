package reviewserver

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/noot-app/foods-cleanup/internal/nutrition"
	"github.com/noot-app/foods-cleanup/internal/store"
	"github.com/noot-app/foods-cleanup/internal/types"
)

const (
	defaultQueueLimit = 20
	maxQueueLimit     = 100
)

// QueueItem is one record waiting for review
type QueueItem struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Brand   string `json:"brand,omitempty"`
	Barcode string `json:"barcode,omitempty"`
	Reason  string `json:"reason"`
}

// QueueResponse is the response from list_review_queue
type QueueResponse struct {
	Total   int         `json:"total"`
	Count   int         `json:"count"`
	Offset  int         `json:"offset"`
	Records []QueueItem `json:"records"`
}

// FoodResponse is the response from get_food
type FoodResponse struct {
	Found  bool              `json:"found"`
	Record *types.FoodRecord `json:"record,omitempty"`
}

// CorrectionResponse is the response from submit_food_correction
type CorrectionResponse struct {
	ID      int64    `json:"id"`
	Updated []string `json:"updated"`
	Reason  string   `json:"reason"`
}

// Columns a correction may set, in response order
var (
	numericColumns = slices.Concat([]string{types.ColServingSizeG}, types.NutritionColumns)
	textColumns    = []string{types.ColServingDescription, types.ColIngredients, types.ColBrand}
)

func (s *Server) handleListReviewQueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", defaultQueueLimit))
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	if limit > maxQueueLimit {
		limit = maxQueueLimit
	}
	offset := int(request.GetFloat("offset", 0))
	if offset < 0 {
		offset = 0
	}

	recs, err := s.store.FetchByPredicate(ctx, store.NeedsReview())
	if err != nil {
		s.log.Error("Review queue fetch failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read review queue: %v", err)), nil
	}

	resp := QueueResponse{Total: len(recs), Offset: offset, Records: []QueueItem{}}
	for i := offset; i < len(recs) && len(resp.Records) < limit; i++ {
		r := recs[i]
		resp.Records = append(resp.Records, QueueItem{ID: r.ID, Name: r.Name, Brand: r.Brand, Barcode: r.Barcode, Reason: r.ReviewReason})
	}
	resp.Count = len(resp.Records)

	s.log.Debug("list_review_queue", "total", resp.Total, "count", resp.Count, "offset", offset)
	return s.structured("list_review_queue", resp), nil
}

func (s *Server) handleGetFood(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.store.FetchByID(ctx, id)
	if err != nil {
		s.log.Error("Food fetch failed", "id", id, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read record %d: %v", id, err)), nil
	}
	return s.structured("get_food", FoodResponse{Found: rec != nil, Record: rec}), nil
}

func (s *Server) handleSubmitCorrection(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireID(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reason, err := request.RequireString("reason")
	if err != nil || strings.TrimSpace(reason) == "" {
		return mcp.NewToolResultError("Missing required parameter 'reason'"), nil
	}

	fields, err := correctionFields(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(fields) == 0 {
		return mcp.NewToolResultError("No fields to correct"), nil
	}

	rec, err := s.store.FetchByID(ctx, id)
	if err != nil {
		s.log.Error("Food fetch failed", "id", id, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read record %d: %v", id, err)), nil
	}
	if rec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("No food record with id %d", id)), nil
	}
	if err := checkCorrected(rec.Nutrition, fields); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	resp := CorrectionResponse{ID: id, Reason: reason}
	for _, c := range slices.Concat(numericColumns, textColumns) {
		if _, ok := fields[c]; ok {
			resp.Updated = append(resp.Updated, c)
		}
	}

	// The next cleanup run puts the record back in the queue if it still fails a check
	fields[types.ColReviewReason] = nil
	if _, err := s.store.Update(ctx, id, fields); err != nil {
		s.log.Error("Correction write failed", "id", id, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Failed to write correction: %v", err)), nil
	}

	s.log.Info("✏️ Correction applied", "id", id, "fields", resp.Updated, "reason", reason)
	return s.structured("submit_food_correction", resp), nil
}

func requireID(request mcp.CallToolRequest) (int64, error) {
	v, err := request.RequireFloat("id")
	if err != nil {
		return 0, fmt.Errorf("missing required parameter 'id': %v", err)
	}
	if v <= 0 || v != math.Trunc(v) {
		return 0, fmt.Errorf("parameter 'id' must be a positive integer, got %v", v)
	}
	return int64(v), nil
}

// correctionFields picks the correctable columns out of the tool arguments
func correctionFields(args map[string]any) (types.FieldValues, error) {
	fields := make(types.FieldValues)
	for _, c := range numericColumns {
		raw, ok := args[c]
		if !ok || raw == nil {
			continue
		}
		v, ok := raw.(float64)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("parameter '%s' must be a number", c)
		}
		if v < 0 {
			return nil, fmt.Errorf("parameter '%s' must not be negative", c)
		}
		if c == types.ColServingSizeG && v == 0 {
			return nil, fmt.Errorf("parameter '%s' must be positive", c)
		}
		fields[c] = v
	}
	for _, c := range textColumns {
		raw, ok := args[c]
		if !ok || raw == nil {
			continue
		}
		v, ok := raw.(string)
		if !ok || strings.TrimSpace(v) == "" {
			return nil, fmt.Errorf("parameter '%s' must be a non-empty string", c)
		}
		fields[c] = strings.TrimSpace(v)
	}
	return fields, nil
}

// checkCorrected rejects corrections that leave the record physically impossible
func checkCorrected(current types.Nutrition, fields types.FieldValues) error {
	n := current
	for _, c := range types.NutritionColumns {
		if v, ok := fields[c].(float64); ok {
			n.Set(c, v)
		}
	}

	switch {
	case n.Sugar > n.Carbs+nutrition.SugarSlack:
		return fmt.Errorf("sugar (%v) exceeds carbs (%v)", n.Sugar, n.Carbs)
	case n.Fiber > n.Carbs+nutrition.SugarSlack:
		return fmt.Errorf("fiber (%v) exceeds carbs (%v)", n.Fiber, n.Carbs)
	case n.Calories > nutrition.MaxCalories:
		return fmt.Errorf("calories (%v) are not possible per 100 g", n.Calories)
	case n.Protein > nutrition.MaxMacro || n.Carbs > nutrition.MaxMacro || n.Fat > nutrition.MaxMacro:
		return fmt.Errorf("protein, carbs and fat must each be at most %v g per 100 g", nutrition.MaxMacro)
	}
	return nil
}
