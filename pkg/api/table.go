package api

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table is the tabular shape of a list-of-records response, produced when a
// get is called with output_type "df". Column order is deterministic:
// original columns sorted alphabetically, derived columns appended in the
// order they were resolved.
type Table struct {
	Columns []string
	Rows    []map[string]any
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Column returns the values of one column, with nil for rows lacking it.
func (t *Table) Column(name string) []any {
	out := make([]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[name]
	}
	return out
}

func (t *Table) hasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

func (t *Table) addColumn(name string) {
	if !t.hasColumn(name) {
		t.Columns = append(t.Columns, name)
	}
}

// shapeTable converts a list-of-records result into a Table and augments id
// columns. Every column ending in _id is resolved through the matching
// sibling endpoint into a derived *_name column, except run_id, which
// expands into subject/session/number/acquisition columns. Columns whose id
// suffix maps to no known resource produce a warning, not an error.
func (a *API) shapeTable(ctx context.Context, v any) (*Table, error) {
	records, ok := v.([]any)
	if !ok {
		return nil, ErrValidation.New("output_type \"df\" requires a list result")
	}

	t := &Table{}
	seen := map[string]bool{}
	for _, r := range records {
		row, ok := r.(map[string]any)
		if !ok {
			return nil, ErrValidation.New("output_type \"df\" requires a list of records")
		}
		t.Rows = append(t.Rows, row)
		for k := range row {
			if !seen[k] {
				seen[k] = true
				t.Columns = append(t.Columns, k)
			}
		}
	}
	sort.Strings(t.Columns)

	for _, col := range append([]string(nil), t.Columns...) {
		if !strings.HasSuffix(col, "_id") {
			continue
		}
		if col == "run_id" {
			a.expandRunColumn(ctx, t)
			continue
		}
		a.resolveIDColumn(ctx, t, col)
	}

	return t, nil
}

// resolveIDColumn adds a <prefix>_name column by looking up each unique id
// through the pluralized sibling endpoint. Failures are non-fatal.
func (a *API) resolveIDColumn(ctx context.Context, t *Table, col string) {
	prefix := strings.TrimSuffix(col, "_id")
	sibling := a.lookup(pluralize(prefix))
	if sibling == nil {
		a.log.Warn().Str("column", col).Msg("no endpoint to resolve id column, leaving unresolved")
		return
	}

	names := map[string]any{}
	for _, id := range t.uniqueIDs(col) {
		v, err := sibling.getRaw(ctx, formatID(id), "", nil)
		if err != nil {
			a.log.Warn().Str("column", col).Str("id", formatID(id)).Err(err).
				Msg("failed to resolve id, leaving unresolved")
			continue
		}
		if m, ok := v.(map[string]any); ok {
			names[formatID(id)] = m["name"]
		}
	}

	nameCol := prefix + "_name"
	t.addColumn(nameCol)
	for _, row := range t.Rows {
		if id, ok := row[col]; ok {
			if name, ok := names[formatID(id)]; ok {
				row[nameCol] = name
			}
		}
	}
}

// runExpandFields are the run attributes merged into the table in place of a
// run_id name lookup.
var runExpandFields = []string{"subject", "session", "number", "acquisition"}

// expandRunColumn looks up each unique run and merges its descriptive fields
// as columns.
func (a *API) expandRunColumn(ctx context.Context, t *Table) {
	runs := map[string]*Run{}
	for _, id := range t.uniqueIDs("run_id") {
		v, err := a.lookup("runs").getRaw(ctx, formatID(id), "", nil)
		if err != nil {
			a.log.Warn().Str("id", formatID(id)).Err(err).Msg("failed to resolve run, leaving unresolved")
			continue
		}
		var run Run
		if err := decodeRecord(v, &run); err != nil {
			a.log.Warn().Str("id", formatID(id)).Err(err).Msg("failed to decode run, leaving unresolved")
			continue
		}
		runs[formatID(id)] = &run
	}

	for _, f := range runExpandFields {
		t.addColumn(f)
	}
	for _, row := range t.Rows {
		id, ok := row["run_id"]
		if !ok {
			continue
		}
		run, ok := runs[formatID(id)]
		if !ok {
			continue
		}
		if _, ok := row["subject"]; !ok {
			row["subject"] = run.Subject
		}
		if _, ok := row["session"]; !ok {
			row["session"] = run.Session
		}
		if _, ok := row["number"]; !ok {
			row["number"] = run.Number
		}
		if _, ok := row["acquisition"]; !ok {
			row["acquisition"] = run.Acquisition
		}
	}
}

// uniqueIDs collects the distinct non-nil values of a column, in row order.
func (t *Table) uniqueIDs(col string) []any {
	seen := map[string]bool{}
	var out []any
	for _, row := range t.Rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		key := formatID(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

// formatID renders an id value as a path segment. JSON numbers arrive as
// float64 and must not pick up a decimal point.
func formatID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
