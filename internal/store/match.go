package store

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// matchDocument evaluates a filter against an in-memory document. It backs
// $match stages that run after rows have left the database.
func matchDocument(doc map[string]interface{}, filter map[string]interface{}) (bool, error) {
	for _, key := range sortedKeys(filter) {
		ok, err := matchClause(doc, key, filter[key])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchClause(doc map[string]interface{}, key string, value interface{}) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		items, ok := value.([]interface{})
		if !ok || len(items) == 0 {
			return false, fmt.Errorf("%w: %s expects a non-empty array", ErrInvalidFilter, key)
		}
		matched := false
		for _, item := range items {
			sub, ok := item.(map[string]interface{})
			if !ok {
				return false, fmt.Errorf("%w: %s entries must be objects", ErrInvalidFilter, key)
			}
			hit, err := matchDocument(doc, sub)
			if err != nil {
				return false, err
			}
			if key == "$and" && !hit {
				return false, nil
			}
			matched = matched || hit
		}
		switch key {
		case "$and":
			return true, nil
		case "$or":
			return matched, nil
		default:
			return !matched, nil
		}
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: unsupported top-level operator %s", ErrInvalidFilter, key)
	}
	if err := checkField(key); err != nil {
		return false, err
	}

	actual, found := lookup(doc, key)
	if ops, ok := value.(map[string]interface{}); ok {
		isOps, err := isOperatorObject(ops)
		if err != nil {
			return false, err
		}
		if isOps {
			return matchOperators(actual, found, key, ops)
		}
	}
	return matchEquals(actual, found, value), nil
}

func matchOperators(actual interface{}, found bool, field string, ops map[string]interface{}) (bool, error) {
	for _, op := range sortedKeys(ops) {
		arg := ops[op]
		var (
			hit bool
			err error
		)
		switch op {
		case "$eq":
			hit = matchEquals(actual, found, arg)
		case "$ne":
			hit = !matchEquals(actual, found, arg)
		case "$gt", "$gte", "$lt", "$lte":
			hit = matchCompare(actual, op, arg)
		case "$in", "$nin":
			items, ok := arg.([]interface{})
			if !ok {
				return false, fmt.Errorf("%w: %s on %s expects an array", ErrInvalidFilter, op, field)
			}
			for _, item := range items {
				if matchEquals(actual, found, item) {
					hit = true
					break
				}
			}
			if op == "$nin" {
				hit = !hit
			}
		case "$regex":
			hit, err = matchRegex(actual, arg, ops["$options"])
		case "$options":
			continue
		case "$exists":
			want, ok := arg.(bool)
			if !ok {
				return false, fmt.Errorf("%w: $exists on %s expects a boolean", ErrInvalidFilter, field)
			}
			hit = found == want
		case "$not":
			sub, ok := arg.(map[string]interface{})
			if !ok {
				return false, fmt.Errorf("%w: $not expects an operator object", ErrInvalidFilter)
			}
			hit, err = matchOperators(actual, found, field, sub)
			hit = !hit
		default:
			err = fmt.Errorf("%w: unsupported operator %s on %s", ErrInvalidFilter, op, field)
		}
		if err != nil || !hit {
			return false, err
		}
	}
	return true, nil
}

func matchEquals(actual interface{}, found bool, want interface{}) bool {
	if want == nil {
		return !found || actual == nil
	}
	if !found {
		return false
	}
	if valuesEqual(actual, want) {
		return true
	}
	if items, ok := actual.([]interface{}); ok {
		for _, item := range items {
			if valuesEqual(item, want) {
				return true
			}
		}
	}
	return false
}

func matchCompare(actual interface{}, op string, want interface{}) bool {
	c, ok := compareValues(actual, want)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

func matchRegex(actual, pattern, options interface{}) (bool, error) {
	expr, ok := pattern.(string)
	if !ok || expr == "" {
		return false, fmt.Errorf("%w: $regex expects a non-empty string", ErrInvalidFilter)
	}
	if opts, ok := options.(string); ok && strings.Contains(opts, "i") {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return false, fmt.Errorf("%w: invalid $regex: %v", ErrInvalidFilter, err)
	}
	s, ok := actual.(string)
	if !ok {
		return false, nil
	}
	return re.MatchString(s), nil
}

// lookup resolves a dotted path, stepping into arrays by numeric index.
func lookup(doc map[string]interface{}, path string) (interface{}, bool) {
	var current interface{} = doc
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			next, ok := node[part]
			if !ok {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func normalize(v interface{}) interface{} {
	if f, ok := toFloat(v); ok {
		return f
	}
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, val := range node {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, val := range node {
			out[i] = normalize(val)
		}
		return out
	}
	return v
}

func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// compareValues orders two scalars of the same kind. ok is false when the
// kinds differ or are not orderable.
func compareValues(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

// typeRank gives a total order across kinds for sorting mixed columns.
func typeRank(v interface{}) int {
	switch v.(type) {
	case nil:
		return 0
	case float64, float32, int, int64, int32:
		return 1
	case string:
		return 2
	case map[string]interface{}:
		return 3
	case []interface{}:
		return 4
	case bool:
		return 5
	}
	return 6
}

func sortCompare(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	if c, ok := compareValues(a, b); ok {
		return c
	}
	return 0
}
