// Package pivot models the declarative pivot request: row and column
// dimensions, metric definitions, filters, and the normalized request hash
// used for result caching.
package pivot

import (
	"encoding/json"
	"strings"

	"pivotgate/internal/enginerr"
)

// Aggregation is a closed set of SQL aggregate functions.
type Aggregation string

const (
	AggSum   Aggregation = "SUM"
	AggAvg   Aggregation = "AVG"
	AggCount Aggregation = "COUNT"
	AggMin   Aggregation = "MIN"
	AggMax   Aggregation = "MAX"
)

// ParseAggregation validates an aggregation tag. Empty defaults to SUM, which
// matches how saved report metrics behave.
func ParseAggregation(tag string) (Aggregation, error) {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "", "SUM":
		return AggSum, nil
	case "AVG":
		return AggAvg, nil
	case "COUNT":
		return AggCount, nil
	case "MIN":
		return AggMin, nil
	case "MAX":
		return AggMax, nil
	default:
		return "", enginerr.New(enginerr.KindConfig, "unsupported aggregation %q", tag)
	}
}

// MetricKind distinguishes plain aggregations from the derived margin metric.
type MetricKind string

const (
	MetricSimple MetricKind = "simple"
	MetricMargin MetricKind = "margin"
)

// Metric is one value definition of a pivot request. For MetricSimple the
// Aggregation is applied to Field; for MetricMargin the value is
// (SUM(revenue)-SUM(cost))/SUM(revenue)*100, zero-guarded.
type Metric struct {
	Name         string      `json:"name"`
	Kind         MetricKind  `json:"kind"`
	Field        string      `json:"field,omitempty"`
	Aggregation  Aggregation `json:"aggregation,omitempty"`
	RevenueField string      `json:"revenueField,omitempty"`
	CostField    string      `json:"costField,omitempty"`
}

// metricPayload matches the wire shape produced by the pivot builder UI.
type metricPayload struct {
	Name         string `json:"name"`
	Field        string `json:"field"`
	Type         string `json:"type"`
	Aggregation  string `json:"aggregation"`
	RevenueField string `json:"revenueField"`
	CostField    string `json:"costField"`
}

// UnmarshalJSON folds the loose wire payload into the closed Metric variant.
func (m *Metric) UnmarshalJSON(data []byte) error {
	var p metricPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	if strings.EqualFold(p.Type, string(MetricMargin)) {
		revenue := p.RevenueField
		if revenue == "" {
			revenue = p.Field
		}
		*m = Metric{
			Name:         p.Name,
			Kind:         MetricMargin,
			RevenueField: revenue,
			CostField:    p.CostField,
		}
		return m.Validate()
	}

	agg, err := ParseAggregation(p.Aggregation)
	if err != nil {
		return err
	}
	name := p.Name
	if name == "" {
		name = p.Field
	}
	*m = Metric{
		Name:        name,
		Kind:        MetricSimple,
		Field:       p.Field,
		Aggregation: agg,
	}
	return m.Validate()
}

// Validate checks the metric's variant-specific required fields.
func (m Metric) Validate() error {
	switch m.Kind {
	case MetricMargin:
		if m.RevenueField == "" || m.CostField == "" {
			return enginerr.New(enginerr.KindConfig, "margin metric %q requires revenue and cost fields", m.Name)
		}
	case MetricSimple:
		if m.Field == "" {
			return enginerr.New(enginerr.KindConfig, "metric %q has no source field", m.Name)
		}
		if _, err := ParseAggregation(string(m.Aggregation)); err != nil {
			return err
		}
	default:
		return enginerr.New(enginerr.KindConfig, "unknown metric kind %q", m.Kind)
	}
	return nil
}

// OutputName is the column name the metric produces in the result table.
func (m Metric) OutputName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Field
}
