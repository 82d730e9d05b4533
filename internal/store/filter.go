package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

var fieldPathPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

var indexSegment = regexp.MustCompile(`^[0-9]+$`)

const idField = "_id"

// sqlBuilder accumulates positional arguments while a statement is rendered.
type sqlBuilder struct {
	args []interface{}
}

func (b *sqlBuilder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *sqlBuilder) bindJSON(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode value: %v", ErrInvalidFilter, err)
	}
	return b.bind(string(raw)) + "::jsonb", nil
}

func checkField(field string) error {
	if !fieldPathPattern.MatchString(field) {
		return fmt.Errorf("%w: invalid field path %q", ErrInvalidFilter, field)
	}
	return nil
}

// pathLiteral renders a validated dotted field as a Postgres text[] literal.
// Only called after checkField, so the path holds no quote characters.
func pathLiteral(field string) string {
	return "'{" + strings.ReplaceAll(field, ".", ",") + "}'"
}

func jsonbAt(field string) string {
	return "doc #> " + pathLiteral(field)
}

func textAt(field string) string {
	return "doc #>> " + pathLiteral(field)
}

func hasIndexSegment(field string) bool {
	for _, part := range strings.Split(field, ".") {
		if indexSegment.MatchString(part) {
			return true
		}
	}
	return false
}

// nest turns a.b.c = v into {"a":{"b":{"c":v}}} for containment checks.
func nest(field string, value interface{}) map[string]interface{} {
	parts := strings.Split(field, ".")
	var out interface{} = value
	for i := len(parts) - 1; i >= 0; i-- {
		out = map[string]interface{}{parts[i]: out}
	}
	return out.(map[string]interface{})
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// isOperatorObject reports whether every key of m is a $-operator. Mixing
// operators and plain fields is rejected.
func isOperatorObject(m map[string]interface{}) (bool, error) {
	if len(m) == 0 {
		return false, nil
	}
	ops := 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	if ops > 0 && ops != len(m) {
		return false, fmt.Errorf("%w: cannot mix operators and fields in one object", ErrInvalidFilter)
	}
	return ops > 0, nil
}

// where renders a filter document as a boolean SQL expression over the
// id and doc columns. An empty filter matches everything.
func (b *sqlBuilder) where(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	parts := make([]string, 0, len(filter))
	for _, key := range sortedKeys(filter) {
		clause, err := b.clause(key, filter[key])
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) clause(key string, value interface{}) (string, error) {
	switch key {
	case "$and", "$or", "$nor":
		return b.logical(key, value)
	}
	if strings.HasPrefix(key, "$") {
		return "", fmt.Errorf("%w: unsupported top-level operator %s", ErrInvalidFilter, key)
	}
	if err := checkField(key); err != nil {
		return "", err
	}

	if ops, ok := value.(map[string]interface{}); ok {
		isOps, err := isOperatorObject(ops)
		if err != nil {
			return "", err
		}
		if isOps {
			return b.operators(key, ops)
		}
	}
	return b.equals(key, value)
}

func (b *sqlBuilder) logical(op string, value interface{}) (string, error) {
	items, ok := value.([]interface{})
	if !ok || len(items) == 0 {
		return "", fmt.Errorf("%w: %s expects a non-empty array", ErrInvalidFilter, op)
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		sub, ok := item.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("%w: %s entries must be objects", ErrInvalidFilter, op)
		}
		clause, err := b.where(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}

	switch op {
	case "$and":
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case "$or":
		return "(" + strings.Join(parts, " OR ") + ")", nil
	default:
		return "NOT (" + strings.Join(parts, " OR ") + ")", nil
	}
}

func (b *sqlBuilder) operators(field string, ops map[string]interface{}) (string, error) {
	parts := make([]string, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var (
			clause string
			err    error
		)
		switch op {
		case "$eq":
			clause, err = b.equals(field, arg)
		case "$ne":
			clause, err = b.equals(field, arg)
			clause = "NOT (" + clause + ")"
		case "$gt", "$gte", "$lt", "$lte":
			clause, err = b.compare(field, op, arg)
		case "$in":
			clause, err = b.in(field, arg)
		case "$nin":
			clause, err = b.in(field, arg)
			clause = "NOT (" + clause + ")"
		case "$regex":
			clause, err = b.regex(field, arg, ops["$options"])
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return "", fmt.Errorf("%w: $options requires $regex", ErrInvalidFilter)
			}
			continue
		case "$exists":
			clause, err = b.exists(field, arg)
		case "$not":
			sub, ok := arg.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("%w: $not expects an operator object", ErrInvalidFilter)
			}
			clause, err = b.operators(field, sub)
			clause = "NOT (" + clause + ")"
		default:
			err = fmt.Errorf("%w: unsupported operator %s on %s", ErrInvalidFilter, op, field)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	if len(parts) == 0 {
		return "TRUE", nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) equals(field string, value interface{}) (string, error) {
	if field == idField {
		id, err := idString(value)
		if err != nil {
			return "", err
		}
		return "id = " + b.bind(id), nil
	}

	if value == nil {
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", jsonbAt(field), jsonbAt(field)), nil
	}

	if hasIndexSegment(field) {
		param, err := b.bindJSON(value)
		if err != nil {
			return "", err
		}
		return jsonbAt(field) + " = " + param, nil
	}

	// Containment also matches array fields holding the value.
	param, err := b.bindJSON(nest(field, value))
	if err != nil {
		return "", err
	}
	return "doc @> " + param, nil
}

var comparisonSQL = map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}

func (b *sqlBuilder) compare(field, op string, value interface{}) (string, error) {
	switch value.(type) {
	case string, float64, bool, int, int64:
	default:
		return "", fmt.Errorf("%w: %s on %s needs a string, number or boolean", ErrInvalidFilter, op, field)
	}

	if field == idField {
		id, err := idString(value)
		if err != nil {
			return "", err
		}
		return "id " + comparisonSQL[op] + " " + b.bind(id), nil
	}

	param, err := b.bindJSON(value)
	if err != nil {
		return "", err
	}
	// Values of different JSON types never compare, as in the source query language.
	return fmt.Sprintf("(jsonb_typeof(%s) = jsonb_typeof(%s) AND %s %s %s)",
		jsonbAt(field), param, jsonbAt(field), comparisonSQL[op], param), nil
}

func (b *sqlBuilder) in(field string, value interface{}) (string, error) {
	items, ok := value.([]interface{})
	if !ok {
		return "", fmt.Errorf("%w: $in/$nin on %s expects an array", ErrInvalidFilter, field)
	}
	if len(items) == 0 {
		return "FALSE", nil
	}

	if field == idField {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			id, err := idString(item)
			if err != nil {
				return "", err
			}
			ids = append(ids, id)
		}
		return "id = ANY(" + b.bind(pq.Array(ids)) + ")", nil
	}

	var (
		candidates []string
		matchNull  bool
	)
	for _, item := range items {
		if item == nil {
			matchNull = true
			continue
		}
		target := item
		if !hasIndexSegment(field) {
			target = nest(field, item)
		}
		raw, err := json.Marshal(target)
		if err != nil {
			return "", fmt.Errorf("%w: encode value: %v", ErrInvalidFilter, err)
		}
		candidates = append(candidates, string(raw))
	}

	var parts []string
	if len(candidates) > 0 {
		param := b.bind(pq.Array(candidates)) + "::jsonb[]"
		if hasIndexSegment(field) {
			parts = append(parts, jsonbAt(field)+" = ANY("+param+")")
		} else {
			parts = append(parts, "doc @> ANY("+param+")")
		}
	}
	if matchNull {
		parts = append(parts, fmt.Sprintf("%s IS NULL OR %s = 'null'::jsonb", jsonbAt(field), jsonbAt(field)))
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (b *sqlBuilder) regex(field string, pattern, options interface{}) (string, error) {
	expr, ok := pattern.(string)
	if !ok || expr == "" {
		return "", fmt.Errorf("%w: $regex on %s expects a non-empty string", ErrInvalidFilter, field)
	}
	if _, err := regexp.Compile(expr); err != nil {
		return "", fmt.Errorf("%w: invalid $regex on %s: %v", ErrInvalidFilter, field, err)
	}

	operator := "~"
	if options != nil {
		opts, ok := options.(string)
		if !ok {
			return "", fmt.Errorf("%w: $options must be a string", ErrInvalidFilter)
		}
		if strings.Contains(opts, "i") {
			operator = "~*"
		}
	}

	target := "COALESCE(" + textAt(field) + ", '')"
	if field == idField {
		target = "id"
	}
	return target + " " + operator + " " + b.bind(expr), nil
}

func (b *sqlBuilder) exists(field string, value interface{}) (string, error) {
	want, ok := value.(bool)
	if !ok {
		if n, isNum := value.(float64); isNum {
			want, ok = n != 0, true
		}
	}
	if !ok {
		return "", fmt.Errorf("%w: $exists on %s expects a boolean", ErrInvalidFilter, field)
	}

	if field == idField {
		if want {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	if want {
		return jsonbAt(field) + " IS NOT NULL", nil
	}
	return jsonbAt(field) + " IS NULL", nil
}

func idString(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	}
	return "", fmt.Errorf("%w: _id must be a string, got %T", ErrInvalidFilter, v)
}
