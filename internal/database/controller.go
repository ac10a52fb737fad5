package database

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"graphbase.dev/internal/schema"
)

// Controller wraps a storage adapter with the schema-aware request
// pipeline. One controller serves the whole process.
type Controller struct {
	adapter Adapter
	schema  *schema.Schema
	hooks   HookRunner
}

func NewController(adapter Adapter, s *schema.Schema, hooks HookRunner) *Controller {
	return &Controller{adapter: adapter, schema: s, hooks: hooks}
}

// Adapter exposes the underlying storage adapter.
func (c *Controller) Adapter() Adapter { return c.adapter }

// Schema exposes the loaded class set.
func (c *Controller) Schema() *schema.Schema { return c.schema }

func (c *Controller) Connect(ctx context.Context) error { return c.adapter.Connect(ctx) }
func (c *Controller) Close(ctx context.Context) error   { return c.adapter.Close(ctx) }

// CreateClassIfNotExist provisions storage for every loaded class.
func (c *Controller) CreateClassIfNotExist(ctx context.Context, className string) error {
	if c.schema.Class(className) == nil {
		return unknownClass(className)
	}
	return c.adapter.CreateClassIfNotExist(ctx, className)
}

// pointerGroup collects the sub-paths requested through one pointer or
// relation field.
type pointerGroup struct {
	targetClass string
	fields      []string
}

// splitFields separates the requested field paths into the class' own
// fields and the traversals through pointer/relation fields. The owning
// field name of each traversal is kept in the base set so the adapter
// returns the foreign id(s).
func (c *Controller) splitFields(className string, fields []string) ([]string, map[string]*pointerGroup, error) {
	class := c.schema.Class(className)
	if class == nil {
		return nil, nil, unknownClass(className)
	}

	var base []string
	groups := make(map[string]*pointerGroup)
	seen := make(map[string]bool)

	for _, field := range fields {
		dot := strings.Index(field, ".")
		if dot < 0 {
			if !seen[field] {
				base = append(base, field)
				seen[field] = true
			}
			continue
		}
		owner, sub := field[:dot], field[dot+1:]
		descriptor, ok := class.Fields[owner]
		if !ok || !descriptor.IsReference() {
			// A dotted path through a non-reference field is a plain
			// nested-object projection; the adapter handles it.
			if !seen[field] {
				base = append(base, field)
				seen[field] = true
			}
			continue
		}
		group := groups[owner]
		if group == nil {
			group = &pointerGroup{targetClass: descriptor.Class}
			groups[owner] = group
		}
		group.fields = append(group.fields, sub)
		if !seen[owner] {
			base = append(base, owner)
			seen[owner] = true
		}
	}
	return base, groups, nil
}

// resolveReferences splices the follow-up fetches for every requested
// pointer/relation field into the object, replacing the stored foreign ids.
// Relation results use the connection shape {edges: [{node}]}.
func (c *Controller) resolveReferences(ctx context.Context, className string, object map[string]any, groups map[string]*pointerGroup, skipHooks bool) (map[string]any, error) {
	if object == nil || len(groups) == 0 {
		return object, nil
	}
	class := c.schema.Class(className)
	if class == nil {
		return nil, unknownClass(className)
	}

	for owner, group := range groups {
		descriptor := class.Fields[owner]
		switch descriptor.Type {
		case schema.TypePointer:
			id, _ := object[owner].(string)
			if id == "" {
				object[owner] = nil
				continue
			}
			sub, err := c.GetObject(ctx, GetObjectParams{
				ClassName: group.targetClass,
				ID:        id,
				Fields:    group.fields,
				SkipHooks: skipHooks,
			})
			if err != nil {
				return nil, err
			}
			object[owner] = sub
		case schema.TypeRelation:
			ids := toStringSlice(object[owner])
			nodes, err := c.GetObjects(ctx, GetObjectsParams{
				ClassName: group.targetClass,
				Where:     Where{"id": map[string]any{OpIn: ids}},
				Fields:    group.fields,
				SkipHooks: skipHooks,
			})
			if err != nil {
				return nil, err
			}
			edges := make([]map[string]any, 0, len(nodes))
			for _, node := range nodes {
				edges = append(edges, map[string]any{"node": node})
			}
			object[owner] = map[string]any{"edges": edges}
		}
	}
	return object, nil
}

// resolveWhere rewrites every predicate that targets a pointer or relation
// field: the target class is queried with the inner filter and the predicate
// becomes an id containment check. An empty match set stays an explicit
// empty "in" list, which matches nothing. AND/OR branches recurse.
func (c *Controller) resolveWhere(ctx context.Context, className string, where Where) (Where, error) {
	if len(where) == 0 {
		return where, nil
	}
	class := c.schema.Class(className)
	if class == nil {
		return nil, unknownClass(className)
	}

	out := make(Where, len(where))
	for key, value := range where {
		if key == "AND" || key == "OR" {
			branches, err := toWhereSlice(value)
			if err != nil {
				return nil, err
			}
			resolved := make([]Where, 0, len(branches))
			for _, branch := range branches {
				r, err := c.resolveWhere(ctx, className, branch)
				if err != nil {
					return nil, err
				}
				resolved = append(resolved, r)
			}
			out[key] = resolved
			continue
		}

		descriptor, ok := class.Fields[key]
		if !ok || !descriptor.IsReference() {
			out[key] = value
			continue
		}

		inner, _ := value.(map[string]any)
		targets, err := c.GetObjects(ctx, GetObjectsParams{
			ClassName: descriptor.Class,
			Where:     Where(inner),
			Fields:    []string{"id"},
		})
		if err != nil {
			return nil, err
		}
		ids := make([]any, 0, len(targets))
		for _, target := range targets {
			ids = append(ids, target["id"])
		}
		out[key] = map[string]any{OpIn: ids}
	}
	return out, nil
}

// GetObject fetches one object by id, resolving requested pointer and
// relation traversals with follow-up fetches. A missing id yields (nil, nil).
func (c *Controller) GetObject(ctx context.Context, p GetObjectParams) (map[string]any, error) {
	base, groups, err := c.splitFields(p.ClassName, p.Fields)
	if err != nil {
		return nil, err
	}

	event := &HookEvent{ClassName: p.ClassName, ID: p.ID, SkipHooks: p.SkipHooks}
	if err := c.hooks.Run(ctx, BeforeRead, event); err != nil {
		return nil, err
	}

	object, err := c.adapter.GetObject(ctx, GetObjectParams{
		ClassName: p.ClassName,
		ID:        p.ID,
		Fields:    base,
	})
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterRead, event); err != nil {
		return nil, err
	}
	return c.resolveReferences(ctx, p.ClassName, object, groups, p.SkipHooks)
}

// GetObjects fetches all objects matching the filter.
func (c *Controller) GetObjects(ctx context.Context, p GetObjectsParams) ([]map[string]any, error) {
	where, err := c.resolveWhere(ctx, p.ClassName, p.Where)
	if err != nil {
		return nil, err
	}
	return c.getObjectsResolved(ctx, p, where)
}

// getObjectsResolved runs the read with an already-resolved filter, so bulk
// operations that resolve the clause for the adapter anyway do not query the
// pointer-filter targets a second time.
func (c *Controller) getObjectsResolved(ctx context.Context, p GetObjectsParams, where Where) ([]map[string]any, error) {
	base, groups, err := c.splitFields(p.ClassName, p.Fields)
	if err != nil {
		return nil, err
	}

	event := &HookEvent{ClassName: p.ClassName, Where: p.Where, SkipHooks: p.SkipHooks}
	if err := c.hooks.Run(ctx, BeforeRead, event); err != nil {
		return nil, err
	}

	objects, err := c.adapter.GetObjects(ctx, GetObjectsParams{
		ClassName: p.ClassName,
		Where:     where,
		Fields:    base,
		Offset:    p.Offset,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterRead, event); err != nil {
		return nil, err
	}

	for i, object := range objects {
		resolved, err := c.resolveReferences(ctx, p.ClassName, object, groups, p.SkipHooks)
		if err != nil {
			return nil, err
		}
		objects[i] = resolved
	}
	return objects, nil
}

// CreateObject writes one object, running the create hook stages around the
// adapter call.
func (c *Controller) CreateObject(ctx context.Context, p CreateObjectParams) (map[string]any, error) {
	base, groups, err := c.splitFields(p.ClassName, p.Fields)
	if err != nil {
		return nil, err
	}

	event := &HookEvent{ClassName: p.ClassName, NewData: p.Data}
	if err := c.hooks.Run(ctx, BeforeCreate, event); err != nil {
		return nil, err
	}

	object, err := c.adapter.CreateObject(ctx, CreateObjectParams{
		ClassName: p.ClassName,
		Data:      event.NewData,
		Fields:    base,
	})
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterCreate, event); err != nil {
		return nil, err
	}
	return c.resolveReferences(ctx, p.ClassName, object, groups, false)
}

// CreateObjects writes a batch. One hook pipeline runs per element, and
// same-stage pipelines run concurrently across elements.
func (c *Controller) CreateObjects(ctx context.Context, p CreateObjectsParams) ([]map[string]any, error) {
	if len(p.Data) == 0 {
		return []map[string]any{}, nil
	}
	base, groups, err := c.splitFields(p.ClassName, p.Fields)
	if err != nil {
		return nil, err
	}

	events := make([]*HookEvent, len(p.Data))
	for i, data := range p.Data {
		events[i] = &HookEvent{ClassName: p.ClassName, NewData: data}
	}

	if err := c.runAll(ctx, BeforeCreate, events); err != nil {
		return nil, err
	}

	data := make([]map[string]any, len(events))
	for i, event := range events {
		data[i] = event.NewData
	}
	objects, err := c.adapter.CreateObjects(ctx, CreateObjectsParams{
		ClassName: p.ClassName,
		Data:      data,
		Fields:    base,
		Offset:    p.Offset,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}

	if err := c.runAll(ctx, AfterCreate, events); err != nil {
		return nil, err
	}

	for i, object := range objects {
		resolved, err := c.resolveReferences(ctx, p.ClassName, object, groups, false)
		if err != nil {
			return nil, err
		}
		objects[i] = resolved
	}
	return objects, nil
}

// UpdateObject rewrites one object by id. The pre-mutation snapshot is
// loaded for the hook stages.
func (c *Controller) UpdateObject(ctx context.Context, p UpdateObjectParams) (map[string]any, error) {
	base, groups, err := c.splitFields(p.ClassName, p.Fields)
	if err != nil {
		return nil, err
	}

	snapshot, err := c.GetObject(ctx, GetObjectParams{ClassName: p.ClassName, ID: p.ID, SkipHooks: true})
	if err != nil {
		return nil, err
	}

	event := &HookEvent{ClassName: p.ClassName, ID: p.ID, NewData: p.Data, Object: snapshot}
	if err := c.hooks.Run(ctx, BeforeUpdate, event); err != nil {
		return nil, err
	}

	object, err := c.adapter.UpdateObject(ctx, UpdateObjectParams{
		ClassName: p.ClassName,
		ID:        p.ID,
		Data:      event.NewData,
		Fields:    base,
	})
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterUpdate, event); err != nil {
		return nil, err
	}
	return c.resolveReferences(ctx, p.ClassName, object, groups, false)
}

// UpdateObjects rewrites every object matching the filter. A single hook
// pipeline, keyed by the where clause, covers the whole batch.
func (c *Controller) UpdateObjects(ctx context.Context, p UpdateObjectsParams) ([]map[string]any, error) {
	base, groups, err := c.splitFields(p.ClassName, p.Fields)
	if err != nil {
		return nil, err
	}
	where, err := c.resolveWhere(ctx, p.ClassName, p.Where)
	if err != nil {
		return nil, err
	}

	event := &HookEvent{ClassName: p.ClassName, Where: p.Where, NewData: p.Data}
	if err := c.hooks.Run(ctx, BeforeUpdate, event); err != nil {
		return nil, err
	}

	objects, err := c.adapter.UpdateObjects(ctx, UpdateObjectsParams{
		ClassName: p.ClassName,
		Where:     where,
		Data:      event.NewData,
		Fields:    base,
		Offset:    p.Offset,
		Limit:     p.Limit,
	})
	if err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterUpdate, event); err != nil {
		return nil, err
	}

	for i, object := range objects {
		resolved, err := c.resolveReferences(ctx, p.ClassName, object, groups, false)
		if err != nil {
			return nil, err
		}
		objects[i] = resolved
	}
	return objects, nil
}

// DeleteObject removes one object by id and returns its pre-delete
// snapshot. A missing id returns (nil, nil) without touching the adapter or
// the hooks.
func (c *Controller) DeleteObject(ctx context.Context, p DeleteObjectParams) (map[string]any, error) {
	snapshot, err := c.GetObject(ctx, GetObjectParams{
		ClassName: p.ClassName,
		ID:        p.ID,
		Fields:    p.Fields,
	})
	if err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, nil
	}

	event := &HookEvent{ClassName: p.ClassName, ID: p.ID, Object: snapshot}
	if err := c.hooks.Run(ctx, BeforeDelete, event); err != nil {
		return nil, err
	}

	if err := c.adapter.DeleteObject(ctx, DeleteObjectParams{ClassName: p.ClassName, ID: p.ID}); err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterDelete, event); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// DeleteObjects removes every object matching the filter, returning their
// pre-delete snapshots. An empty match set is a no-op.
func (c *Controller) DeleteObjects(ctx context.Context, p DeleteObjectsParams) ([]map[string]any, error) {
	where, err := c.resolveWhere(ctx, p.ClassName, p.Where)
	if err != nil {
		return nil, err
	}

	snapshots, err := c.getObjectsResolved(ctx, GetObjectsParams{
		ClassName: p.ClassName,
		Where:     p.Where,
		Fields:    p.Fields,
	}, where)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return []map[string]any{}, nil
	}

	event := &HookEvent{ClassName: p.ClassName, Where: p.Where}
	if err := c.hooks.Run(ctx, BeforeDelete, event); err != nil {
		return nil, err
	}

	if err := c.adapter.DeleteObjects(ctx, DeleteObjectsParams{ClassName: p.ClassName, Where: where}); err != nil {
		return nil, err
	}

	if err := c.hooks.Run(ctx, AfterDelete, event); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (c *Controller) runAll(ctx context.Context, trigger Trigger, events []*HookEvent) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, event := range events {
		event := event
		g.Go(func() error { return c.hooks.Run(gctx, trigger, event) })
	}
	return g.Wait()
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toWhereSlice(value any) ([]Where, error) {
	switch v := value.(type) {
	case []Where:
		return v, nil
	case []map[string]any:
		out := make([]Where, len(v))
		for i, m := range v {
			out[i] = Where(m)
		}
		return out, nil
	case []any:
		out := make([]Where, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, Where(m))
			}
		}
		return out, nil
	}
	return nil, errors.New("database: AND/OR expects a list of where clauses")
}
