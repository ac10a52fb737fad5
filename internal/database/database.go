// Package database mediates every CRUD operation between the generated
// resolvers and the storage adapter: it expands pointer and relation fields
// into follow-up fetches, rewrites where clauses that target them, and runs
// the hook pipeline around each adapter call.
package database

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownClass is returned when an operation names a class absent
	// from the loaded schema.
	ErrUnknownClass = errors.New("database: class not found in schema")
)

// Where is the raw filter shape produced by the generated where-input types:
// a mapping of field name to comparator object, plus the reserved AND/OR
// keys holding lists of nested clauses.
type Where map[string]any

// Comparator keys understood by the adapters.
const (
	OpEqualTo              = "equalTo"
	OpNotEqualTo           = "notEqualTo"
	OpIn                   = "in"
	OpNotIn                = "notIn"
	OpGreaterThan          = "greaterThan"
	OpGreaterThanOrEqualTo = "greaterThanOrEqualTo"
	OpLessThan             = "lessThan"
	OpLessThanOrEqualTo    = "lessThanOrEqualTo"
	OpContains             = "contains"
	OpNotContains          = "notContains"
)

// Trigger names a stage of the hook pipeline.
type Trigger string

const (
	BeforeCreate Trigger = "beforeCreate"
	AfterCreate  Trigger = "afterCreate"
	BeforeUpdate Trigger = "beforeUpdate"
	AfterUpdate  Trigger = "afterUpdate"
	BeforeDelete Trigger = "beforeDelete"
	AfterDelete  Trigger = "afterDelete"
	BeforeRead   Trigger = "beforeRead"
	AfterRead    Trigger = "afterRead"
)

// Before reports whether the trigger runs ahead of the adapter call. Only
// before stages may mutate the pending data.
func (t Trigger) Before() bool {
	switch t {
	case BeforeCreate, BeforeUpdate, BeforeDelete, BeforeRead:
		return true
	}
	return false
}

// Operation returns the CRUD operation name of the trigger, matching the
// keys of schema permission rules.
func (t Trigger) Operation() string {
	switch t {
	case BeforeCreate, AfterCreate:
		return "create"
	case BeforeUpdate, AfterUpdate:
		return "update"
	case BeforeDelete, AfterDelete:
		return "delete"
	default:
		return "read"
	}
}

// HookEvent carries one logical operation through both stages of the hook
// pipeline. NewData is shared with the controller: mutations committed by
// before-hooks are what the adapter persists.
type HookEvent struct {
	ClassName string
	NewData   map[string]any
	Object    map[string]any
	ID        string
	Where     Where
	SkipHooks bool
}

// HookRunner is implemented by the hooks package. A returned error aborts
// the surrounding database operation.
type HookRunner interface {
	Run(ctx context.Context, trigger Trigger, event *HookEvent) error
}

// GetObjectParams selects a single object by id. Fields uses dot notation
// for pointer traversals ("author.name").
type GetObjectParams struct {
	ClassName string
	ID        string
	Fields    []string
	SkipHooks bool
}

// GetObjectsParams selects objects by filter.
type GetObjectsParams struct {
	ClassName string
	Where     Where
	Fields    []string
	Offset    int
	Limit     int
	SkipHooks bool
}

type CreateObjectParams struct {
	ClassName string
	Data      map[string]any
	Fields    []string
}

type CreateObjectsParams struct {
	ClassName string
	Data      []map[string]any
	Fields    []string
	Offset    int
	Limit     int
}

type UpdateObjectParams struct {
	ClassName string
	ID        string
	Data      map[string]any
	Fields    []string
}

type UpdateObjectsParams struct {
	ClassName string
	Where     Where
	Data      map[string]any
	Fields    []string
	Offset    int
	Limit     int
}

type DeleteObjectParams struct {
	ClassName string
	ID        string
	Fields    []string
}

type DeleteObjectsParams struct {
	ClassName string
	Where     Where
	Fields    []string
}

// Adapter is the storage backend consumed by the controller. Adapters
// receive only base (dot-free) field sets; pointer traversal is the
// controller's job. Adapters own their transient-failure policy: the
// controller never retries.
type Adapter interface {
	Connect(ctx context.Context) error
	Close(ctx context.Context) error
	CreateClassIfNotExist(ctx context.Context, className string) error

	GetObject(ctx context.Context, p GetObjectParams) (map[string]any, error)
	GetObjects(ctx context.Context, p GetObjectsParams) ([]map[string]any, error)
	CreateObject(ctx context.Context, p CreateObjectParams) (map[string]any, error)
	CreateObjects(ctx context.Context, p CreateObjectsParams) ([]map[string]any, error)
	UpdateObject(ctx context.Context, p UpdateObjectParams) (map[string]any, error)
	UpdateObjects(ctx context.Context, p UpdateObjectsParams) ([]map[string]any, error)
	DeleteObject(ctx context.Context, p DeleteObjectParams) error
	DeleteObjects(ctx context.Context, p DeleteObjectsParams) error
}

// ErrObjectNotFound is returned by adapters when an id does not resolve.
var ErrObjectNotFound = errors.New("database: object not found")

func unknownClass(name string) error {
	return fmt.Errorf("%w: %s", ErrUnknownClass, name)
}
