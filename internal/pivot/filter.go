package pivot

import (
	"encoding/json"
	"strings"

	"pivotgate/internal/enginerr"
)

// FilterOperator is the closed set of filter operations. Values are always
// parameter-bound when the operator reaches SQL.
type FilterOperator string

const (
	OpContains       FilterOperator = "contains"
	OpEquals         FilterOperator = "equals"
	OpNotEquals      FilterOperator = "notEquals"
	OpGreaterThan    FilterOperator = "greaterThan"
	OpLessThan       FilterOperator = "lessThan"
	OpGreaterOrEqual FilterOperator = "greaterOrEqual"
	OpLessOrEqual    FilterOperator = "lessOrEqual"
	OpIsNull         FilterOperator = "isNull"
	OpIsNotNull      FilterOperator = "isNotNull"
)

// ParseFilterOperator validates a filter operator tag.
func ParseFilterOperator(tag string) (FilterOperator, error) {
	for _, op := range []FilterOperator{
		OpContains, OpEquals, OpNotEquals,
		OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual,
		OpIsNull, OpIsNotNull,
	} {
		if strings.EqualFold(tag, string(op)) {
			return op, nil
		}
	}
	return "", enginerr.New(enginerr.KindConfig, "unsupported filter operator %q", tag)
}

// NeedsValue reports whether the operator binds a comparison value.
func (op FilterOperator) NeedsValue() bool {
	return op != OpIsNull && op != OpIsNotNull
}

// Filter is one column constraint: an operator plus its bound value.
type Filter struct {
	Op    FilterOperator `json:"type"`
	Value any            `json:"value,omitempty"`
}

// UnmarshalJSON validates the operator tag while decoding.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var p struct {
		Type  string `json:"type"`
		Value any    `json:"value"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	op, err := ParseFilterOperator(p.Type)
	if err != nil {
		return err
	}
	if op.NeedsValue() && p.Value == nil {
		return enginerr.New(enginerr.KindConfig, "filter operator %q requires a value", op)
	}
	*f = Filter{Op: op, Value: p.Value}
	return nil
}
