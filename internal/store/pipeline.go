package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type stage struct {
	name string
	arg  interface{}
}

// parseStages checks that every pipeline entry is a single-key stage object.
func parseStages(pipeline []interface{}) ([]stage, error) {
	stages := make([]stage, 0, len(pipeline))
	for i, raw := range pipeline {
		obj, ok := raw.(map[string]interface{})
		if !ok || len(obj) != 1 {
			return nil, fmt.Errorf("%w: stage %d must be an object with exactly one key", ErrInvalidPipeline, i)
		}
		for name, arg := range obj {
			if !strings.HasPrefix(name, "$") {
				return nil, fmt.Errorf("%w: stage %d has no operator", ErrInvalidPipeline, i)
			}
			stages = append(stages, stage{name: name, arg: arg})
		}
	}
	return stages, nil
}

// splitPushdown separates the leading $match stages, which can run in SQL,
// from the rest of the pipeline.
func splitPushdown(stages []stage) ([]map[string]interface{}, []stage, error) {
	var filters []map[string]interface{}
	i := 0
	for ; i < len(stages) && stages[i].name == "$match"; i++ {
		filter, ok := stages[i].arg.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("%w: $match expects an object", ErrInvalidPipeline)
		}
		filters = append(filters, filter)
	}
	return filters, stages[i:], nil
}

func runStages(docs []map[string]interface{}, stages []stage) ([]map[string]interface{}, error) {
	var err error
	for _, st := range stages {
		switch st.name {
		case "$match":
			docs, err = stageMatch(docs, st.arg)
		case "$group":
			docs, err = stageGroup(docs, st.arg)
		case "$sort":
			docs, err = stageSort(docs, st.arg)
		case "$limit":
			docs, err = stageLimit(docs, st.arg)
		case "$skip":
			docs, err = stageSkip(docs, st.arg)
		case "$project":
			docs, err = stageProject(docs, st.arg)
		case "$count":
			docs, err = stageCount(docs, st.arg)
		default:
			err = fmt.Errorf("%w: unsupported stage %s", ErrInvalidPipeline, st.name)
		}
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func stageMatch(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	filter, ok := arg.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: $match expects an object", ErrInvalidPipeline)
	}
	out := docs[:0:0]
	for _, doc := range docs {
		hit, err := matchDocument(doc, filter)
		if err != nil {
			return nil, err
		}
		if hit {
			out = append(out, doc)
		}
	}
	return out, nil
}

// evalExpr resolves "$path" references against doc; objects are evaluated
// field by field and everything else is a literal.
func evalExpr(doc map[string]interface{}, expr interface{}) interface{} {
	switch e := expr.(type) {
	case string:
		if strings.HasPrefix(e, "$") && len(e) > 1 {
			v, _ := lookup(doc, e[1:])
			return v
		}
		return e
	case map[string]interface{}:
		out := make(map[string]interface{}, len(e))
		for k, v := range e {
			out[k] = evalExpr(doc, v)
		}
		return out
	}
	return expr
}

type accumulator struct {
	op    string
	arg   interface{}
	sum   float64
	n     int
	value interface{}
	set   bool
	items []interface{}
}

func newAccumulator(field string, spec interface{}) (*accumulator, error) {
	obj, ok := spec.(map[string]interface{})
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("%w: $group field %s must be a single accumulator object", ErrInvalidPipeline, field)
	}
	for op, arg := range obj {
		switch op {
		case "$sum", "$avg", "$min", "$max", "$count", "$first", "$last", "$push", "$addToSet":
			return &accumulator{op: op, arg: arg}, nil
		}
		return nil, fmt.Errorf("%w: unsupported accumulator %s", ErrInvalidPipeline, op)
	}
	return nil, nil
}

func (a *accumulator) add(doc map[string]interface{}) {
	if a.op == "$count" {
		a.n++
		return
	}
	v := evalExpr(doc, a.arg)
	switch a.op {
	case "$sum", "$avg":
		if f, ok := toFloat(v); ok {
			a.sum += f
			a.n++
		}
	case "$min", "$max":
		if v == nil {
			return
		}
		if !a.set {
			a.value, a.set = v, true
			return
		}
		c := sortCompare(v, a.value)
		if (a.op == "$min" && c < 0) || (a.op == "$max" && c > 0) {
			a.value = v
		}
	case "$first":
		if !a.set {
			a.value, a.set = v, true
		}
	case "$last":
		a.value, a.set = v, true
	case "$push":
		a.items = append(a.items, v)
	case "$addToSet":
		for _, item := range a.items {
			if valuesEqual(item, v) {
				return
			}
		}
		a.items = append(a.items, v)
	}
}

func (a *accumulator) result() interface{} {
	switch a.op {
	case "$count":
		return int64(a.n)
	case "$sum":
		return a.sum
	case "$avg":
		if a.n == 0 {
			return nil
		}
		return a.sum / float64(a.n)
	case "$push", "$addToSet":
		if a.items == nil {
			return []interface{}{}
		}
		return a.items
	}
	return a.value
}

type group struct {
	key  interface{}
	accs map[string]*accumulator
}

func stageGroup(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	spec, ok := arg.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: $group expects an object", ErrInvalidPipeline)
	}
	keyExpr, ok := spec[idField]
	if !ok {
		return nil, fmt.Errorf("%w: $group requires an _id expression", ErrInvalidPipeline)
	}

	fields := make([]string, 0, len(spec))
	for field := range spec {
		if field != idField {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	// Validate accumulators even when no rows arrive.
	for _, field := range fields {
		if _, err := newAccumulator(field, spec[field]); err != nil {
			return nil, err
		}
	}

	var order []string
	groups := make(map[string]*group)
	for _, doc := range docs {
		key := evalExpr(doc, keyExpr)
		raw, err := json.Marshal(normalize(key))
		if err != nil {
			return nil, fmt.Errorf("%w: group key: %v", ErrInvalidPipeline, err)
		}
		g, seen := groups[string(raw)]
		if !seen {
			g = &group{key: key, accs: make(map[string]*accumulator, len(fields))}
			for _, field := range fields {
				g.accs[field], _ = newAccumulator(field, spec[field])
			}
			groups[string(raw)] = g
			order = append(order, string(raw))
		}
		for _, acc := range g.accs {
			acc.add(doc)
		}
	}

	out := make([]map[string]interface{}, 0, len(order))
	for _, k := range order {
		g := groups[k]
		row := map[string]interface{}{idField: g.key}
		for field, acc := range g.accs {
			row[field] = acc.result()
		}
		out = append(out, row)
	}
	return out, nil
}

// stageSort applies keys in lexical order since decoded objects do not keep
// their source key order.
func stageSort(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	spec, ok := arg.(map[string]interface{})
	if !ok || len(spec) == 0 {
		return nil, fmt.Errorf("%w: $sort expects a non-empty object", ErrInvalidPipeline)
	}
	keys := sortedKeys(spec)
	dirs := make([]int, len(keys))
	for i, k := range keys {
		d, ok := toFloat(spec[k])
		if !ok || (d != 1 && d != -1) {
			return nil, fmt.Errorf("%w: $sort direction for %s must be 1 or -1", ErrInvalidPipeline, k)
		}
		dirs[i] = int(d)
	}

	out := append([]map[string]interface{}(nil), docs...)
	sort.SliceStable(out, func(i, j int) bool {
		for n, k := range keys {
			a, _ := lookup(out[i], k)
			b, _ := lookup(out[j], k)
			if c := sortCompare(a, b); c != 0 {
				return c*dirs[n] < 0
			}
		}
		return false
	})
	return out, nil
}

func positiveInt(name string, arg interface{}, allowZero bool) (int, error) {
	f, ok := toFloat(arg)
	if !ok || f != float64(int(f)) || f < 0 || (!allowZero && f == 0) {
		return 0, fmt.Errorf("%w: %s expects a whole number", ErrInvalidPipeline, name)
	}
	return int(f), nil
}

func stageLimit(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	n, err := positiveInt("$limit", arg, false)
	if err != nil {
		return nil, err
	}
	if n < len(docs) {
		docs = docs[:n]
	}
	return docs, nil
}

func stageSkip(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	n, err := positiveInt("$skip", arg, true)
	if err != nil {
		return nil, err
	}
	if n >= len(docs) {
		return []map[string]interface{}{}, nil
	}
	return docs[n:], nil
}

func projectionFlag(v interface{}) (include, isFlag bool) {
	switch p := v.(type) {
	case bool:
		return p, true
	case float64:
		return p != 0, true
	case int:
		return p != 0, true
	}
	return false, false
}

func stageProject(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	spec, ok := arg.(map[string]interface{})
	if !ok || len(spec) == 0 {
		return nil, fmt.Errorf("%w: $project expects a non-empty object", ErrInvalidPipeline)
	}

	inclusion, exclusion := false, false
	for field, v := range spec {
		if err := checkField(field); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
		}
		include, isFlag := projectionFlag(v)
		switch {
		case !isFlag || include:
			inclusion = true
		case field != idField:
			exclusion = true
		}
	}
	if inclusion && exclusion {
		return nil, fmt.Errorf("%w: $project cannot mix inclusion and exclusion", ErrInvalidPipeline)
	}

	out := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		var row map[string]interface{}
		if inclusion {
			row = make(map[string]interface{}, len(spec)+1)
			if v, ok := doc[idField]; ok {
				row[idField] = v
			}
			for field, v := range spec {
				include, isFlag := projectionFlag(v)
				switch {
				case isFlag && !include:
					delete(row, field)
				case isFlag:
					if val, ok := lookup(doc, field); ok {
						row[field] = val
					}
				default:
					row[field] = evalExpr(doc, v)
				}
			}
		} else {
			row = make(map[string]interface{}, len(doc))
			for k, v := range doc {
				row[k] = v
			}
			for field := range spec {
				delete(row, field)
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// stageCount always yields one row, including a zero count.
func stageCount(docs []map[string]interface{}, arg interface{}) ([]map[string]interface{}, error) {
	name, ok := arg.(string)
	if !ok || name == "" || strings.HasPrefix(name, "$") || strings.Contains(name, ".") {
		return nil, fmt.Errorf("%w: $count expects a plain field name", ErrInvalidPipeline)
	}
	return []map[string]interface{}{{name: int64(len(docs))}}, nil
}
