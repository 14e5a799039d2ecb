package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v5.json"

var chartMarks = map[string]string{
	"bar":     "bar",
	"line":    "line",
	"area":    "area",
	"scatter": "point",
	"point":   "point",
	"pie":     "arc",
}

// Chart renders structured data as a Vega-Lite chart specification.
type Chart struct{}

func (c *Chart) Name() string { return "chart" }

func (c *Chart) Description() string {
	return "Build a chart from structured data. Params: data (object of series or list of records, " +
		"pass a whole-value reference such as {{step_2.extracted_data}}), chart_type (bar, line, area, scatter, pie), title. " +
		"Outputs: chart_spec, chart_type, points."
}

func (c *Chart) Execute(ctx context.Context, params map[string]any) (Result, error) {
	data, ok := params["data"]
	if !ok || data == nil {
		return Fail("chart: data is required"), nil
	}
	if s, isString := data.(string); isString {
		return Fail("chart: data must be structured (object or list), got text %q; reference the data as a whole value", truncate(s, 60)), nil
	}

	chartType := strings.ToLower(String(params, "chart_type", "type", "kind"))
	if chartType == "" {
		chartType = "bar"
	}
	mark, ok := chartMarks[chartType]
	if !ok {
		return Fail("chart: unsupported chart_type %q", chartType), nil
	}

	rows, x, y, err := chartRows(data)
	if err != nil {
		return Fail("chart: %v", err), nil
	}
	if len(rows) == 0 {
		return Fail("chart: data is empty"), nil
	}

	var encoding map[string]any
	if mark == "arc" {
		encoding = map[string]any{
			"theta": map[string]any{"field": y, "type": "quantitative"},
			"color": map[string]any{"field": x, "type": "nominal"},
		}
	} else {
		xType := "nominal"
		if mark == "point" || mark == "line" || mark == "area" {
			if allNumeric(rows, x) {
				xType = "quantitative"
			} else {
				xType = "ordinal"
			}
		}
		encoding = map[string]any{
			"x": map[string]any{"field": x, "type": xType},
			"y": map[string]any{"field": y, "type": "quantitative"},
		}
	}

	spec := map[string]any{
		"$schema":  vegaLiteSchema,
		"data":     map[string]any{"values": rows},
		"mark":     mark,
		"encoding": encoding,
	}
	if title := String(params, "title"); title != "" {
		spec["title"] = title
	}
	return OK(map[string]any{"chart_spec": spec, "chart_type": chartType, "points": len(rows)}), nil
}

// chartRows normalizes data into records and picks the x and y fields.
func chartRows(data any) ([]any, string, string, error) {
	switch d := data.(type) {
	case map[string]any:
		if isColumnar(d) {
			return columnRows(d)
		}
		keys := sortedKeys(d)
		rows := make([]any, 0, len(keys))
		for _, k := range keys {
			if !isNumber(d[k]) {
				return nil, "", "", fmt.Errorf("value for %q is not numeric", k)
			}
			rows = append(rows, map[string]any{"category": k, "value": d[k]})
		}
		return rows, "category", "value", nil
	case []any:
		return listRows(d)
	case []map[string]any:
		list := make([]any, len(d))
		for i, m := range d {
			list[i] = m
		}
		return listRows(list)
	default:
		return nil, "", "", fmt.Errorf("data must be an object or a list, got %T", data)
	}
}

func isColumnar(d map[string]any) bool {
	if len(d) == 0 {
		return false
	}
	for _, v := range d {
		if _, ok := v.([]any); !ok {
			return false
		}
	}
	return true
}

func columnRows(d map[string]any) ([]any, string, string, error) {
	keys := sortedKeys(d)
	x := pickField(keys, "", "x", "label", "labels", "category", "categories", "name", "names", "date", "dates")
	y := pickField(keys, x, "y", "value", "values", "total", "totals", "count", "amount")
	if len(keys) == 1 {
		x, y = "index", keys[0]
	}
	if y == "" {
		return nil, "", "", fmt.Errorf("data needs at least two series or one numeric series")
	}

	n := 0
	for _, k := range keys {
		if l := len(d[k].([]any)); l > n {
			n = l
		}
	}
	rows := make([]any, 0, n)
	for i := 0; i < n; i++ {
		row := map[string]any{}
		if x == "index" {
			row["index"] = i
		}
		for _, k := range keys {
			if col := d[k].([]any); i < len(col) {
				row[k] = col[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, x, y, nil
}

func listRows(d []any) ([]any, string, string, error) {
	if len(d) == 0 {
		return nil, "", "", nil
	}
	if first, ok := d[0].(map[string]any); ok {
		keys := sortedKeys(first)
		x := pickField(keys, "", "x", "label", "category", "name", "date", "month", "region")
		var numeric []string
		for _, k := range keys {
			if k != x && isNumber(first[k]) {
				numeric = append(numeric, k)
			}
		}
		y := pickField(numeric, x, "y", "value", "total", "count", "amount")
		if y == "" {
			return nil, "", "", fmt.Errorf("records have no numeric field")
		}
		rows := make([]any, 0, len(d))
		for _, r := range d {
			if _, ok := r.(map[string]any); !ok {
				return nil, "", "", fmt.Errorf("mixed record and scalar data")
			}
			rows = append(rows, r)
		}
		return rows, x, y, nil
	}

	rows := make([]any, 0, len(d))
	for i, v := range d {
		if !isNumber(v) {
			return nil, "", "", fmt.Errorf("item %d is not numeric", i)
		}
		rows = append(rows, map[string]any{"index": i, "value": v})
	}
	return rows, "index", "value", nil
}

// pickField returns the first preferred key present in keys, or the first
// key other than exclude.
func pickField(keys []string, exclude string, preferred ...string) string {
	for _, p := range preferred {
		for _, k := range keys {
			if k == p && k != exclude {
				return k
			}
		}
	}
	for _, k := range keys {
		if k != exclude {
			return k
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	return false
}

func allNumeric(rows []any, field string) bool {
	for _, r := range rows {
		if m, ok := r.(map[string]any); ok && !isNumber(m[field]) {
			return false
		}
	}
	return true
}
