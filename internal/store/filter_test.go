package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLBuilder_Where(t *testing.T) {
	tests := []struct {
		name     string
		filter   map[string]interface{}
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "empty filter",
			filter:  map[string]interface{}{},
			wantSQL: "TRUE",
		},
		{
			name:     "plain equality uses containment",
			filter:   map[string]interface{}{"status": "present"},
			wantSQL:  "doc @> $1::jsonb",
			wantArgs: []interface{}{`{"status":"present"}`},
		},
		{
			name:     "dotted path nests the containment document",
			filter:   map[string]interface{}{"guardian.phone": "0300"},
			wantSQL:  "doc @> $1::jsonb",
			wantArgs: []interface{}{`{"guardian":{"phone":"0300"}}`},
		},
		{
			name:     "id equality targets the key column",
			filter:   map[string]interface{}{"_id": "stu-1"},
			wantSQL:  "id = $1",
			wantArgs: []interface{}{"stu-1"},
		},
		{
			name: "date range",
			filter: map[string]interface{}{"date": map[string]interface{}{
				"$gte": "2024-12-10T00:00:00.000Z",
				"$lt":  "2024-12-10T23:59:59.999Z",
			}},
			wantSQL: "((jsonb_typeof(doc #> '{date}') = jsonb_typeof($1::jsonb) AND doc #> '{date}' >= $1::jsonb)" +
				" AND (jsonb_typeof(doc #> '{date}') = jsonb_typeof($2::jsonb) AND doc #> '{date}' < $2::jsonb))",
			wantArgs: []interface{}{`"2024-12-10T00:00:00.000Z"`, `"2024-12-10T23:59:59.999Z"`},
		},
		{
			name: "or of two fields",
			filter: map[string]interface{}{"$or": []interface{}{
				map[string]interface{}{"status": "pending"},
				map[string]interface{}{"month": float64(12)},
			}},
			wantSQL:  "(doc @> $1::jsonb OR doc @> $2::jsonb)",
			wantArgs: []interface{}{`{"status":"pending"}`, `{"month":12}`},
		},
		{
			name:    "null equality matches missing",
			filter:  map[string]interface{}{"resolvedBy": nil},
			wantSQL: "(doc #> '{resolvedBy}' IS NULL OR doc #> '{resolvedBy}' = 'null'::jsonb)",
		},
		{
			name:     "case-insensitive regex",
			filter:   map[string]interface{}{"name": map[string]interface{}{"$regex": "^ali", "$options": "i"}},
			wantSQL:  "COALESCE(doc #>> '{name}', '') ~* $1",
			wantArgs: []interface{}{"^ali"},
		},
		{
			name:    "exists false",
			filter:  map[string]interface{}{"room": map[string]interface{}{"$exists": false}},
			wantSQL: "doc #> '{room}' IS NULL",
		},
		{
			name:     "not equal",
			filter:   map[string]interface{}{"status": map[string]interface{}{"$ne": "paid"}},
			wantSQL:  "NOT (doc @> $1::jsonb)",
			wantArgs: []interface{}{`{"status":"paid"}`},
		},
		{
			name:     "array index path compares directly",
			filter:   map[string]interface{}{"occupants.0": "stu-1"},
			wantSQL:  "doc #> '{occupants,0}' = $1::jsonb",
			wantArgs: []interface{}{`"stu-1"`},
		},
		{
			name:    "empty in matches nothing",
			filter:  map[string]interface{}{"status": map[string]interface{}{"$in": []interface{}{}}},
			wantSQL: "FALSE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &sqlBuilder{}
			sql, err := b.where(tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, b.args)
		})
	}
}

func TestSQLBuilder_WhereIn(t *testing.T) {
	b := &sqlBuilder{}
	sql, err := b.where(map[string]interface{}{
		"status": map[string]interface{}{"$in": []interface{}{"open", nil}},
	})
	require.NoError(t, err)
	assert.Equal(t, "(doc @> ANY($1::jsonb[]) OR doc #> '{status}' IS NULL OR doc #> '{status}' = 'null'::jsonb)", sql)
	require.Len(t, b.args, 1)

	b = &sqlBuilder{}
	sql, err = b.where(map[string]interface{}{
		"_id": map[string]interface{}{"$nin": []interface{}{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "NOT (id = ANY($1))", sql)
}

func TestSQLBuilder_WhereRejects(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]interface{}
	}{
		{"javascript operator", map[string]interface{}{"$where": "this.a > 1"}},
		{"injection in field path", map[string]interface{}{"name'; DROP TABLE users; --": "x"}},
		{"unknown field operator", map[string]interface{}{"age": map[string]interface{}{"$elemMatch": map[string]interface{}{}}}},
		{"mixed operator object", map[string]interface{}{"age": map[string]interface{}{"$gt": 1, "x": 2}}},
		{"or with scalar", map[string]interface{}{"$or": "status"}},
		{"object id", map[string]interface{}{"_id": map[string]interface{}{"$oid": "x"}}},
		{"compare object", map[string]interface{}{"age": map[string]interface{}{"$gt": map[string]interface{}{}}}},
		{"options without regex", map[string]interface{}{"name": map[string]interface{}{"$options": "i"}}},
		{"bad regex", map[string]interface{}{"name": map[string]interface{}{"$regex": "("}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &sqlBuilder{}
			_, err := b.where(tt.filter)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidFilter), "got %v", err)
		})
	}
}

func TestSQLBuilder_UpdateExpr(t *testing.T) {
	t.Run("plain object is a set", func(t *testing.T) {
		b := &sqlBuilder{}
		expr, err := b.updateExpr(map[string]interface{}{"status": "paid"})
		require.NoError(t, err)
		assert.Equal(t, "jsonb_set(doc, '{status}', $1::jsonb, true)", expr)
		assert.Equal(t, []interface{}{`"paid"`}, b.args)
	})

	t.Run("set unset and inc chain", func(t *testing.T) {
		b := &sqlBuilder{}
		expr, err := b.updateExpr(map[string]interface{}{
			"$inc":   map[string]interface{}{"fine": float64(100)},
			"$set":   map[string]interface{}{"status": "overdue"},
			"$unset": map[string]interface{}{"waiver": ""},
		})
		require.NoError(t, err)
		assert.Equal(t,
			"(jsonb_set(jsonb_set(doc, '{fine}', to_jsonb(COALESCE((doc #>> '{fine}')::numeric, 0) + $1::numeric), true), '{status}', $2::jsonb, true) #- '{waiver}')",
			expr)
		assert.Equal(t, []interface{}{float64(100), `"overdue"`}, b.args)
	})

	t.Run("dotted set creates missing parents outermost first", func(t *testing.T) {
		b := &sqlBuilder{}
		expr, err := b.updateExpr(map[string]interface{}{
			"$set": map[string]interface{}{"guardian.address.city": "Lahore", "guardian.phone": "0300"},
		})
		require.NoError(t, err)
		assert.Equal(t,
			"jsonb_set(jsonb_set("+
				"jsonb_set(jsonb_set(doc, '{guardian}', COALESCE(doc #> '{guardian}', '{}'::jsonb), true), "+
				"'{guardian,address}', COALESCE(doc #> '{guardian,address}', '{}'::jsonb), true), "+
				"'{guardian,address,city}', $1::jsonb, true), '{guardian,phone}', $2::jsonb, true)",
			expr)
		assert.Equal(t, []interface{}{`"Lahore"`, `"0300"`}, b.args)
	})

	t.Run("dotted inc creates missing parent", func(t *testing.T) {
		b := &sqlBuilder{}
		expr, err := b.updateExpr(map[string]interface{}{
			"$inc": map[string]interface{}{"stats.visits": float64(1)},
		})
		require.NoError(t, err)
		assert.Equal(t,
			"jsonb_set(jsonb_set(doc, '{stats}', COALESCE(doc #> '{stats}', '{}'::jsonb), true), "+
				"'{stats,visits}', to_jsonb(COALESCE((doc #>> '{stats,visits}')::numeric, 0) + $1::numeric), true)",
			expr)
	})

	t.Run("unset builds no parents and array paths stop at the array", func(t *testing.T) {
		b := &sqlBuilder{}
		expr, err := b.updateExpr(map[string]interface{}{
			"$set":   map[string]interface{}{"occupants.0": "s9"},
			"$unset": map[string]interface{}{"guardian.phone": ""},
		})
		require.NoError(t, err)
		assert.Equal(t,
			"(jsonb_set(jsonb_set(doc, '{occupants}', COALESCE(doc #> '{occupants}', '{}'::jsonb), true), '{occupants,0}', $1::jsonb, true) #- '{guardian,phone}')",
			expr)
	})

	rejects := []struct {
		name   string
		update map[string]interface{}
	}{
		{"parent and child in one update", map[string]interface{}{
			"$set": map[string]interface{}{"guardian": map[string]interface{}{}, "guardian.phone": "0300"},
		}},
		{"empty", map[string]interface{}{}},
		{"id change", map[string]interface{}{"$set": map[string]interface{}{"_id": "x"}}},
		{"push", map[string]interface{}{"$push": map[string]interface{}{"tags": "x"}}},
		{"mixed", map[string]interface{}{"$set": map[string]interface{}{"a": 1}, "b": 2}},
		{"non numeric inc", map[string]interface{}{"$inc": map[string]interface{}{"fine": "ten"}}},
		{"same field twice", map[string]interface{}{
			"$set":   map[string]interface{}{"status": "x"},
			"$unset": map[string]interface{}{"status": ""},
		}},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			b := &sqlBuilder{}
			_, err := b.updateExpr(tt.update)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidUpdate), "got %v", err)
		})
	}
}
