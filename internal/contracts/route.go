package contracts

// RouteRequest asks for a comfort-aware cost evaluation of a route,
// given as an ordered list of segment IDs. Per-segment travel time costs
// are supplied by the caller (the router); this service never computes
// them. When TimeCosts is omitted every segment gets a unit time cost.
type RouteRequest struct {
	Segments      []string  `json:"segments"`
	TimeCosts     []float64 `json:"time_costs,omitempty"` // parallel to Segments
	TimeWeight    float64   `json:"time_weight"`
	ComfortWeight float64   `json:"comfort_weight"`
}

// RouteSegmentCost is the per-segment breakdown of a route evaluation.
type RouteSegmentCost struct {
	SegmentID    string  `json:"segment_id"`
	ComfortScore float64 `json:"comfort_score"`
	ComfortCost  float64 `json:"comfort_cost"`
	TimeCost     float64 `json:"time_cost"`
	Known        bool    `json:"known"` // false when the segment was absent or expired
}

// RouteCost is the result of a route evaluation.
// TotalCost sums the weighted per-segment costs; AverageComfort averages
// comfort over known segments only.
type RouteCost struct {
	TotalCost      float64            `json:"total_cost"`
	TimeCost       float64            `json:"time_cost"`
	ComfortCost    float64            `json:"comfort_cost"`
	AverageComfort float64            `json:"average_comfort"`
	KnownSegments  int                `json:"known_segments"`
	Segments       []RouteSegmentCost `json:"segments"`
}
