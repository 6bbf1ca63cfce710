package pivot

// Request is the declarative pivot specification for one execution.
type Request struct {
	// GroupBy lists row-group dimensions, in order.
	GroupBy []string `json:"group_by"`
	// SplitBy lists column-pivot dimensions, in order. Their distinct value
	// combinations become output columns rather than rows.
	SplitBy []string `json:"split_by"`
	// Metrics lists the values to aggregate.
	Metrics []Metric `json:"metrics"`
	// Rollup adds subtotal rows (NULL dimensions) to a grouped result.
	// Ignored when SplitBy is set; subtotal rows do not pivot.
	Rollup bool `json:"rollup"`
	// Filters constrains the base dataset before aggregation.
	Filters map[string]Filter `json:"filters"`
	// Limit caps result rows for preview mode. Nil means the engine default
	// for ungrouped shapes and no cap for aggregated ones.
	Limit *int `json:"limit,omitempty"`
	// ForceRefresh bypasses the result cache for this execution.
	ForceRefresh bool `json:"-"`
}

// SortSpec orders drill-down output by one result column.
type SortSpec struct {
	Column     string `json:"column"`
	Descending bool   `json:"descending"`
}

// DrillRequest asks for one level of the aggregation tree: the children of
// the node identified by GroupKeys.
type DrillRequest struct {
	// GroupBy is the full ordered list of configured row-group dimensions.
	GroupBy []string `json:"group_by"`
	// GroupKeys holds the literal key values of already-expanded ancestors,
	// one per dimension; len(GroupKeys) is the requested depth.
	GroupKeys []any `json:"group_keys"`
	// SplitBy lists active column-pivot dimensions included in the grouping.
	SplitBy []string          `json:"split_by"`
	Metrics []Metric          `json:"metrics"`
	Filters map[string]Filter `json:"filters"`
	Sort    []SortSpec        `json:"sort"`
	// Offset and PageSize paginate the level's children.
	Offset   int `json:"offset"`
	PageSize int `json:"page_size"`
}

// Depth is the number of already-expanded ancestor dimensions.
func (r DrillRequest) Depth() int { return len(r.GroupKeys) }
