package querybridge

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Pipeline is the schema-constrained query description the model is asked to
// produce. It is deliberately not arbitrary SQL or a free-form structure:
// every field, operator and function is checked against a whitelist before
// anything reaches the database.
type Pipeline struct {
	Filters      []Filter      `json:"filters,omitempty"`
	GroupBy      []string      `json:"groupBy,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty"`
	Sort         []SortKey     `json:"sort,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

// Filter restricts the queried records on one field.
type Filter struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// Aggregation computes one value per group.
type Aggregation struct {
	Field string `json:"field"`
	Fn    string `json:"fn"`
	As    string `json:"as"`
}

// SortKey orders the result rows.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// fieldColumns maps the field names offered to the model onto table columns.
var fieldColumns = map[string]string{
	"sourceName":           "source_name",
	"countryCode":          "country_code",
	"currencyCode":         "currency_code",
	"status":               "status",
	"timestamp":            "ts",
	"recordsInFeed":        "records_in_feed",
	"jobsInFeed":           "jobs_in_feed",
	"jobsSentToIndex":      "jobs_sent_to_index",
	"jobsFailIndexed":      "jobs_fail_indexed",
	"jobsSentToEnrich":     "jobs_sent_to_enrich",
	"jobsWithoutMetadata":  "jobs_without_metadata",
	"switchIndex":          "switch_index",
	"recordCount":          "record_count",
	"uniqueRefNumberCount": "unique_ref_number_count",
	"noCoordinatesCount":   "no_coordinates_count",
}

var filterOps = map[string]string{
	"eq":  "=",
	"ne":  "<>",
	"gt":  ">",
	"gte": ">=",
	"lt":  "<",
	"lte": "<=",
}

var aggregationFns = map[string]struct{}{
	"sum":   {},
	"avg":   {},
	"min":   {},
	"max":   {},
	"count": {},
}

var aliasRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ToSQL compiles the pipeline into one parameterized SELECT over log_records.
// It returns an error for anything outside the whitelists; callers treat that
// the same as a failed query execution.
func (p Pipeline) ToSQL() (query string, args []any, err error) {
	var where []string
	for _, f := range p.Filters {
		col, ok := fieldColumns[f.Field]
		if !ok {
			return "", nil, fmt.Errorf("unknown filter field %q", f.Field)
		}
		op, ok := filterOps[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		args = append(args, filterArg(f.Field, f.Value))
		where = append(where, fmt.Sprintf("%s %s $%d", col, op, len(args)))
	}

	selectable := map[string]bool{}
	var selects, groups []string
	for _, field := range p.GroupBy {
		col, ok := fieldColumns[field]
		if !ok {
			return "", nil, fmt.Errorf("unknown groupBy field %q", field)
		}
		selects = append(selects, fmt.Sprintf("%s AS %q", col, field))
		groups = append(groups, col)
		selectable[field] = true
	}

	for _, agg := range p.Aggregations {
		if _, ok := aggregationFns[agg.Fn]; !ok {
			return "", nil, fmt.Errorf("unsupported aggregation %q", agg.Fn)
		}
		if !aliasRe.MatchString(agg.As) {
			return "", nil, fmt.Errorf("invalid aggregation alias %q", agg.As)
		}

		expr := "*"
		if agg.Fn != "count" || agg.Field != "" {
			col, ok := fieldColumns[agg.Field]
			if !ok {
				return "", nil, fmt.Errorf("unknown aggregation field %q", agg.Field)
			}
			expr = col
		}
		selects = append(selects, fmt.Sprintf("%s(%s) AS %q", agg.Fn, expr, agg.As))
		selectable[agg.As] = true
	}

	if len(p.GroupBy) > 0 && len(p.Aggregations) == 0 {
		return "", nil, fmt.Errorf("groupBy requires at least one aggregation")
	}

	aggregated := len(p.Aggregations) > 0
	if !aggregated {
		// Plain listing: project every known field under its public name.
		for _, field := range fieldOrder {
			selects = append(selects, fmt.Sprintf("%s AS %q", fieldColumns[field], field))
			selectable[field] = true
		}
	}

	var order []string
	for _, s := range p.Sort {
		if !selectable[s.Field] {
			return "", nil, fmt.Errorf("cannot sort on %q", s.Field)
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		order = append(order, fmt.Sprintf("%q %s", s.Field, dir))
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM log_records", strings.Join(selects, ", "))
	if len(where) > 0 {
		fmt.Fprintf(&b, " WHERE %s", strings.Join(where, " AND "))
	}
	if len(groups) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s", strings.Join(groups, ", "))
	}
	if len(order) > 0 {
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(order, ", "))
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)

	return b.String(), args, nil
}

// fieldOrder keeps plain listings in a stable column order.
var fieldOrder = []string{
	"sourceName", "countryCode", "currencyCode", "status", "timestamp",
	"recordsInFeed", "jobsInFeed", "jobsSentToIndex", "jobsFailIndexed",
	"jobsSentToEnrich", "jobsWithoutMetadata", "switchIndex",
	"recordCount", "uniqueRefNumberCount", "noCoordinatesCount",
}

// filterArg converts timestamp filters from the literal ISO strings the prompt
// mandates into time values; everything else is passed through as-is.
func filterArg(field string, value any) any {
	if field != "timestamp" {
		return value
	}
	s, ok := value.(string)
	if !ok {
		return value
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return value
}
