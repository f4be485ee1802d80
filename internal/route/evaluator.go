package route

import (
	"fmt"

	"github.com/jaylee/roadpulse/backend/internal/contracts"
)

// neutralComfortCost is charged for segments with no valid cache entry.
// Unknown roads are treated as average, not best- or worst-case.
const neutralComfortCost = 0.5

// SnapshotGetter is the read-only cache view the evaluator needs.
type SnapshotGetter interface {
	Get(segmentID string) (contracts.SegmentSnapshot, bool)
}

// Evaluator scores routes by combining externally supplied travel time
// costs with cached comfort estimates. It only reads the cache and
// never mutates aggregation state.
type Evaluator struct {
	cache SnapshotGetter
}

// NewEvaluator creates a route evaluator over the given cache.
func NewEvaluator(cache SnapshotGetter) *Evaluator {
	return &Evaluator{cache: cache}
}

// Evaluate computes the cost of a route. Per segment:
//
//	comfort_cost = 1 - comfort_score     (0.5 when unknown)
//	cost         = time_weight*time_cost + comfort_weight*comfort_cost
//
// Weights that do not sum to 1 are normalized, not rejected. The
// average comfort covers known segments only; unknown ones are excluded
// rather than counted at the neutral value.
func (e *Evaluator) Evaluate(req contracts.RouteRequest) (contracts.RouteCost, error) {
	if len(req.TimeCosts) > 0 && len(req.TimeCosts) != len(req.Segments) {
		return contracts.RouteCost{}, fmt.Errorf("time_costs length %d does not match segments length %d",
			len(req.TimeCosts), len(req.Segments))
	}

	timeWeight, comfortWeight := normalizeWeights(req.TimeWeight, req.ComfortWeight)

	result := contracts.RouteCost{
		Segments: make([]contracts.RouteSegmentCost, 0, len(req.Segments)),
	}

	var comfortSum float64

	for i, segmentID := range req.Segments {
		timeCost := 1.0
		if len(req.TimeCosts) > 0 {
			timeCost = req.TimeCosts[i]
		}

		seg := contracts.RouteSegmentCost{
			SegmentID: segmentID,
			TimeCost:  timeCost,
		}

		if snap, found := e.cache.Get(segmentID); found {
			seg.Known = true
			seg.ComfortScore = snap.ComfortScore
			seg.ComfortCost = 1 - snap.ComfortScore
			comfortSum += snap.ComfortScore
			result.KnownSegments++
		} else {
			seg.ComfortScore = neutralComfortCost
			seg.ComfortCost = neutralComfortCost
		}

		result.TimeCost += timeCost
		result.ComfortCost += seg.ComfortCost
		result.TotalCost += timeWeight*timeCost + comfortWeight*seg.ComfortCost
		result.Segments = append(result.Segments, seg)
	}

	if result.KnownSegments > 0 {
		result.AverageComfort = comfortSum / float64(result.KnownSegments)
	}

	return result, nil
}

// normalizeWeights scales the weights so they sum to 1. Two zero
// weights degenerate to an even split.
func normalizeWeights(timeWeight, comfortWeight float64) (float64, float64) {
	sum := timeWeight + comfortWeight
	if sum <= 0 {
		return 0.5, 0.5
	}
	return timeWeight / sum, comfortWeight / sum
}
