// internal/models/command.go
package models

import (
	"sort"
	"strings"
)

// EntityName is one of the hostel record kinds the admin assistant may touch.
type EntityName string

const (
	EntityStudent      EntityName = "Student"
	EntityRoom         EntityName = "Room"
	EntityAttendance   EntityName = "Attendance"
	EntityComplaint    EntityName = "Complaint"
	EntityFee          EntityName = "Fee"
	EntityNotification EntityName = "Notification"
	EntityUser         EntityName = "User"
)

// entityTables maps each allowed entity to its backing table.
var entityTables = map[EntityName]string{
	EntityStudent:      "students",
	EntityRoom:         "rooms",
	EntityAttendance:   "attendance",
	EntityComplaint:    "complaints",
	EntityFee:          "fees",
	EntityNotification: "notifications",
	EntityUser:         "users",
}

// IsAllowed reports whether e is on the entity allow-list.
func (e EntityName) IsAllowed() bool {
	_, ok := entityTables[e]
	return ok
}

// Table returns the backing table name, or "" for unknown entities.
func (e EntityName) Table() string {
	return entityTables[e]
}

// AllowedEntities returns the allow-list in a stable order.
func AllowedEntities() []EntityName {
	out := make([]EntityName, 0, len(entityTables))
	for e := range entityTables {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Operation is a store verb a command may request.
type Operation string

const (
	OpFind       Operation = "find"
	OpFindOne    Operation = "findOne"
	OpCount      Operation = "count"
	OpUpdateOne  Operation = "updateOne"
	OpUpdateMany Operation = "updateMany"
	OpAggregate  Operation = "aggregate"
)

var allowedOperations = []Operation{OpFind, OpFindOne, OpCount, OpUpdateOne, OpUpdateMany, OpAggregate}

// operationAliases normalizes verbs models commonly emit for allowed operations.
var operationAliases = map[string]Operation{
	"countDocuments":         OpCount,
	"estimatedDocumentCount": OpCount,
}

// destructiveVerbs are matched case-insensitively as prefixes or substrings.
var destructiveVerbs = []string{"delete", "remove", "drop", "truncate", "replace", "bulkwrite"}

// NormalizeOperation resolves aliases; unknown verbs are returned unchanged.
func NormalizeOperation(op string) Operation {
	if alias, ok := operationAliases[op]; ok {
		return alias
	}
	return Operation(op)
}

func (o Operation) IsAllowed() bool {
	for _, allowed := range allowedOperations {
		if o == allowed {
			return true
		}
	}
	return false
}

// IsDestructive reports whether o names a delete-family or document
// replacing verb. These are refused regardless of entity.
func (o Operation) IsDestructive() bool {
	lower := strings.ToLower(string(o))
	for _, verb := range destructiveVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// IsWrite reports whether o modifies documents.
func (o Operation) IsWrite() bool {
	return o == OpUpdateOne || o == OpUpdateMany
}

func AllowedOperations() []Operation {
	return append([]Operation(nil), allowedOperations...)
}

// Document is a single stored record; "_id" carries its identifier.
type Document = map[string]interface{}

// Command is a validated instruction describing one store operation.
type Command struct {
	EntityName  EntityName             `json:"entityName"`
	Operation   Operation              `json:"operation"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
	Update      map[string]interface{} `json:"update,omitempty"`
	Pipeline    []interface{}          `json:"pipeline,omitempty"`
	Explanation string                 `json:"explanation,omitempty"`
}

// ExecutionOutcome is the successful result of one executed command.
type ExecutionOutcome struct {
	EntityName EntityName `json:"entityName"`
	Operation  Operation  `json:"operation"`
	Documents  []Document `json:"documents,omitempty"`
	Document   Document   `json:"document,omitempty"`
	Count      *int64     `json:"count,omitempty"`
	Matched    int64      `json:"matched,omitempty"`
	Modified   int64      `json:"modified,omitempty"`
	Rows       []Document `json:"rows,omitempty"`
	Truncated  bool       `json:"truncated,omitempty"`
}

// Result returns the value handed to the summarizer: the natural shape of
// the operation's result rather than the envelope.
func (o *ExecutionOutcome) Result() interface{} {
	switch o.Operation {
	case OpFind:
		if o.Documents == nil {
			return []Document{}
		}
		return o.Documents
	case OpFindOne:
		if o.Document == nil {
			return nil
		}
		return o.Document
	case OpCount:
		if o.Count == nil {
			return 0
		}
		return *o.Count
	case OpUpdateOne, OpUpdateMany:
		return map[string]int64{"matchedCount": o.Matched, "modifiedCount": o.Modified}
	case OpAggregate:
		if o.Rows == nil {
			return []Document{}
		}
		return o.Rows
	}
	return nil
}

// IsEmpty reports whether the outcome carries no records.
func (o *ExecutionOutcome) IsEmpty() bool {
	switch o.Operation {
	case OpFind:
		return len(o.Documents) == 0
	case OpFindOne:
		return o.Document == nil
	case OpCount:
		return o.Count == nil || *o.Count == 0
	case OpUpdateOne, OpUpdateMany:
		return o.Matched == 0
	case OpAggregate:
		return len(o.Rows) == 0
	}
	return true
}
