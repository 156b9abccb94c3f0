package resttest

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// QueryParams holds parsed query parameters in a structured way
type QueryParams struct {
	Select     []SelectParam // Columns to select, empty for *
	Order      []OrderParam  // Order by columns
	Limit      int           // Limit results, -1 for no limit
	Offset     int           // Offset results
	Filters    []Condition   // ANDed conditions in request order
	OnConflict []string      // Upsert conflict target
}

type SelectParam struct {
	Alias  string
	Column string
}

type OrderParam struct {
	Column     string
	Descending bool
	NullsFirst bool
}

// Condition is a single filter, or a group of conditions joined by OR, or by
// AND when All is set.
type Condition struct {
	Column   string
	Operator string
	Value    string
	Negate   bool
	All      bool
	Group    []Condition
}

var errUnsupported = errors.New("not supported by the test server")

// parseQueryParams parses PostgREST query parameters preserving filter order.
func parseQueryParams(rawQuery string) (QueryParams, error) {
	params := QueryParams{Limit: -1}

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return params, fmt.Errorf("invalid query key %q: %w", rawKey, err)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return params, fmt.Errorf("invalid query value %q: %w", rawValue, err)
		}

		switch key {
		case "select":
			if params.Select, err = parseSelectParam(value); err != nil {
				return params, err
			}
		case "order":
			params.Order = parseOrderParam(value)
		case "limit":
			if params.Limit, err = parseIntParam(key, value); err != nil {
				return params, err
			}
		case "offset":
			if params.Offset, err = parseIntParam(key, value); err != nil {
				return params, err
			}
		case "on_conflict":
			params.OnConflict = strings.Split(value, ",")
		case "or", "and", "not.or", "not.and":
			cond, err := parseLogicParam(key, value)
			if err != nil {
				return params, err
			}
			params.Filters = append(params.Filters, cond)
		default:
			cond, err := parseFilterParam(key, value)
			if err != nil {
				return params, err
			}
			params.Filters = append(params.Filters, cond)
		}
	}

	return params, nil
}

func parseIntParam(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, value)
	}
	return n, nil
}

// parseSelectParam supports column lists with alias:column and ::cast.
// Embedded resources are rejected.
func parseSelectParam(value string) ([]SelectParam, error) {
	if value == "" || value == "*" {
		return nil, nil
	}
	var out []SelectParam
	for _, part := range splitTopLevel(value) {
		part = strings.TrimSpace(part)
		if part == "*" {
			return nil, nil
		}
		if strings.Contains(part, "(") {
			return nil, fmt.Errorf("embedded resource %q %w", part, errUnsupported)
		}
		col, _, _ := strings.Cut(part, "::")
		alias := col
		if a, c, found := strings.Cut(col, ":"); found {
			alias, col = a, c
		}
		out = append(out, SelectParam{Alias: alias, Column: col})
	}
	return out, nil
}

// parseOrderParam parses col, col.desc, col.asc.nullsfirst and similar terms.
func parseOrderParam(order string) []OrderParam {
	var result []OrderParam
	for _, part := range strings.Split(order, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		o := OrderParam{}
		nullsSet := false
		if s, ok := strings.CutSuffix(part, ".nullsfirst"); ok {
			part, o.NullsFirst, nullsSet = s, true, true
		} else if s, ok := strings.CutSuffix(part, ".nullslast"); ok {
			part, nullsSet = s, true
		}
		if s, ok := strings.CutSuffix(part, ".desc"); ok {
			part, o.Descending = s, true
		} else if s, ok := strings.CutSuffix(part, ".asc"); ok {
			part = s
		}
		// PostgreSQL puts nulls last ascending and first descending
		if !nullsSet {
			o.NullsFirst = o.Descending
		}
		o.Column = part
		result = append(result, o)
	}
	return result
}

var supportedOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"like": true, "ilike": true, "in": true, "is": true,
}

// parseFilterParam parses "op.value" or "not.op.value" for column.
func parseFilterParam(column, value string) (Condition, error) {
	cond := Condition{Column: column}
	if rest, ok := strings.CutPrefix(value, "not."); ok {
		cond.Negate = true
		value = rest
	}
	op, val, found := strings.Cut(value, ".")
	if !found {
		return cond, fmt.Errorf("failed to parse filter (%s)", value)
	}
	if !supportedOperators[op] {
		return cond, fmt.Errorf("operator %q %w", op, errUnsupported)
	}
	cond.Operator = op
	cond.Value = val
	return cond, nil
}

// parseLogicParam parses or=(a.eq.x,b.lt.y) and its and/not variants.
func parseLogicParam(key, value string) (Condition, error) {
	cond := Condition{}
	if rest, ok := strings.CutPrefix(key, "not."); ok {
		cond.Negate = true
		key = rest
	}
	inner, ok := strings.CutPrefix(value, "(")
	if !ok || !strings.HasSuffix(inner, ")") {
		return cond, fmt.Errorf("failed to parse logic tree (%s)", value)
	}
	inner = strings.TrimSuffix(inner, ")")

	var children []Condition
	for _, term := range splitTopLevel(inner) {
		var child Condition
		var err error
		if op, rest, nested := cutLogicPrefix(term); nested {
			child, err = parseLogicParam(op, rest)
		} else {
			column, rest, found := strings.Cut(term, ".")
			if !found {
				return cond, fmt.Errorf("failed to parse logic tree (%s)", value)
			}
			child, err = parseFilterParam(column, rest)
		}
		if err != nil {
			return cond, err
		}
		children = append(children, child)
	}

	cond.Group = children
	cond.All = key == "and"
	return cond, nil
}

// cutLogicPrefix splits a nested group such as "not.and(a.eq.1,b.eq.2)".
func cutLogicPrefix(term string) (string, string, bool) {
	for _, op := range []string{"or", "and", "not.or", "not.and"} {
		if rest, ok := strings.CutPrefix(term, op+"("); ok {
			return op, "(" + rest, true
		}
	}
	return "", "", false
}

// splitTopLevel splits on commas outside parentheses and double quotes.
func splitTopLevel(s string) []string {
	var parts []string
	var current strings.Builder
	depth := 0
	quoted := false

	for _, char := range s {
		switch {
		case char == '"':
			quoted = !quoted
		case quoted:
		case char == '(':
			depth++
		case char == ')':
			depth--
		case char == ',' && depth == 0:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(char)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// parseList parses "(a,"b,c",d)" into its unquoted elements.
func parseList(value string) []string {
	value = strings.TrimSuffix(strings.TrimPrefix(value, "("), ")")
	var out []string
	for _, item := range splitTopLevel(value) {
		item = strings.TrimSpace(item)
		if len(item) >= 2 && strings.HasPrefix(item, `"`) && strings.HasSuffix(item, `"`) {
			item = strings.ReplaceAll(item[1:len(item)-1], `\"`, `"`)
		}
		out = append(out, item)
	}
	return out
}

// columns reports every column a condition references.
func (c Condition) columns() []string {
	if c.Group == nil {
		return []string{c.Column}
	}
	var cols []string
	for _, child := range c.Group {
		cols = append(cols, child.columns()...)
	}
	return cols
}

// Match evaluates the condition against row with SQL null semantics: a
// comparison against a null value never matches, negated or not.
func (c Condition) Match(row Row) bool {
	if c.Group != nil {
		match := func(child Condition) bool { return child.Match(row) }
		var matched bool
		if c.All {
			matched = !slices.ContainsFunc(c.Group, func(child Condition) bool { return !match(child) })
		} else {
			matched = slices.ContainsFunc(c.Group, match)
		}
		return matched != c.Negate
	}

	v := row[c.Column]
	if c.Operator == "is" {
		return isMatch(v, c.Value) != c.Negate
	}
	if v == nil {
		return false
	}

	var matched bool
	switch c.Operator {
	case "eq":
		matched = formatValue(v) == c.Value
	case "neq":
		matched = formatValue(v) != c.Value
	case "gt":
		matched = compareValue(v, c.Value) > 0
	case "gte":
		matched = compareValue(v, c.Value) >= 0
	case "lt":
		matched = compareValue(v, c.Value) < 0
	case "lte":
		matched = compareValue(v, c.Value) <= 0
	case "like":
		matched = likePattern(c.Value, false).MatchString(formatValue(v))
	case "ilike":
		matched = likePattern(c.Value, true).MatchString(formatValue(v))
	case "in":
		matched = slices.Contains(parseList(c.Value), formatValue(v))
	}
	return matched != c.Negate
}

func isMatch(v any, want string) bool {
	switch strings.ToLower(want) {
	case "null", "unknown":
		return v == nil
	case "true":
		b, ok := v.(bool)
		return ok && b
	case "false":
		b, ok := v.(bool)
		return ok && !b
	}
	return false
}

// likePattern converts a LIKE pattern, with * accepted for %, to a regexp.
func likePattern(pattern string, insensitive bool) *regexp.Regexp {
	var sb strings.Builder
	if insensitive {
		sb.WriteString("(?i)")
	}
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*', '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	return regexp.MustCompile(sb.String())
}

// formatValue renders a stored value the way it appears in a filter.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// compareValue compares numerically when both sides are numbers, otherwise
// as text.
func compareValue(v any, s string) int {
	if a, ok := toFloat(v); ok {
		if _, isString := v.(string); !isString {
			if b, ok := toFloat(s); ok {
				return cmp.Compare(a, b)
			}
		}
	}
	return strings.Compare(formatValue(v), s)
}

func compareValues(a, b any) int {
	if _, isString := b.(string); !isString {
		if fb, ok := toFloat(b); ok {
			if fa, ok := toFloat(a); ok {
				if _, aString := a.(string); !aString {
					return cmp.Compare(fa, fb)
				}
			}
		}
	}
	return strings.Compare(formatValue(a), formatValue(b))
}

// sortRows orders rows in place by the given terms.
func sortRows(rows []Row, order []OrderParam) {
	if len(order) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		for _, o := range order {
			va, vb := a[o.Column], b[o.Column]
			switch {
			case va == nil && vb == nil:
				continue
			case va == nil:
				if o.NullsFirst {
					return -1
				}
				return 1
			case vb == nil:
				if o.NullsFirst {
					return 1
				}
				return -1
			}
			c := compareValues(va, vb)
			if o.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})
}

// project applies the select list to row.
func project(row Row, sel []SelectParam) Row {
	if len(sel) == 0 {
		return maps.Clone(row)
	}
	out := make(Row, len(sel))
	for _, s := range sel {
		out[s.Alias] = row[s.Column]
	}
	return out
}
