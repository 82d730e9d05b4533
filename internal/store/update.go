package store

import (
	"fmt"
	"sort"
	"strings"
)

var supportedUpdateOps = map[string]bool{"$set": true, "$unset": true, "$inc": true}

// normalizeUpdate wraps an operator-free update document in $set.
func normalizeUpdate(update map[string]interface{}) (map[string]interface{}, error) {
	if len(update) == 0 {
		return nil, fmt.Errorf("%w: update document is empty", ErrInvalidUpdate)
	}
	isOps, err := isOperatorObject(update)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot mix update operators and plain fields", ErrInvalidUpdate)
	}
	if !isOps {
		return map[string]interface{}{"$set": update}, nil
	}
	for op := range update {
		if !supportedUpdateOps[op] {
			return nil, fmt.Errorf("%w: unsupported update operator %s", ErrInvalidUpdate, op)
		}
	}
	return update, nil
}

// updateExpr renders the new value of the doc column. Missing parent objects
// of dotted $set and $inc targets are created first, shortest path first,
// since jsonb_set only creates the last key of a path.
func (b *sqlBuilder) updateExpr(update map[string]interface{}) (string, error) {
	ops, err := normalizeUpdate(update)
	if err != nil {
		return "", err
	}

	touched := make(map[string]string)
	var parents []string
	for _, op := range sortedKeys(ops) {
		fields, ok := ops[op].(map[string]interface{})
		if !ok || len(fields) == 0 {
			return "", fmt.Errorf("%w: %s expects a non-empty object", ErrInvalidUpdate, op)
		}

		for _, field := range sortedKeys(fields) {
			if err := checkField(field); err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
			}
			if field == idField || strings.HasPrefix(field, idField+".") {
				return "", fmt.Errorf("%w: _id cannot be modified", ErrInvalidUpdate)
			}
			for other, prev := range touched {
				if other == field || strings.HasPrefix(field, other+".") || strings.HasPrefix(other, field+".") {
					return "", fmt.Errorf("%w: %s in %s conflicts with %s in %s", ErrInvalidUpdate, field, op, other, prev)
				}
			}
			touched[field] = op
			if op != "$unset" {
				parents = append(parents, parentPaths(field)...)
			}
		}
	}

	expr := "doc"
	for _, parent := range dedupeByDepth(parents) {
		expr = fmt.Sprintf("jsonb_set(%s, %s, COALESCE(%s, '{}'::jsonb), true)", expr, pathLiteral(parent), jsonbAt(parent))
	}

	for _, op := range sortedKeys(ops) {
		fields := ops[op].(map[string]interface{})
		for _, field := range sortedKeys(fields) {
			value := fields[field]
			switch op {
			case "$set":
				param, err := b.bindJSON(value)
				if err != nil {
					return "", fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
				}
				expr = fmt.Sprintf("jsonb_set(%s, %s, %s, true)", expr, pathLiteral(field), param)
			case "$unset":
				expr = fmt.Sprintf("(%s #- %s)", expr, pathLiteral(field))
			case "$inc":
				delta, ok := toFloat(value)
				if !ok {
					return "", fmt.Errorf("%w: $inc on %s needs a number", ErrInvalidUpdate, field)
				}
				expr = fmt.Sprintf("jsonb_set(%s, %s, to_jsonb(COALESCE((%s)::numeric, 0) + %s::numeric), true)",
					expr, pathLiteral(field), textAt(field), b.bind(delta))
			}
		}
	}
	return expr, nil
}

// parentPaths lists the object prefixes of a dotted field, outermost first.
// Array index segments end the list; positions are never created.
func parentPaths(field string) []string {
	parts := strings.Split(field, ".")
	var out []string
	for i := 1; i < len(parts); i++ {
		if indexSegment.MatchString(parts[i-1]) {
			break
		}
		out = append(out, strings.Join(parts[:i], "."))
	}
	return out
}

func dedupeByDepth(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "."), strings.Count(out[j], ".")
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out
}
