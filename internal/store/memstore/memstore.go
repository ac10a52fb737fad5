// Package memstore is an in-memory storage adapter. It backs tests and
// local development; data does not survive the process.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/ids"
)

// Store holds every class collection behind one mutex. The zero value is
// not usable; call New.
type Store struct {
	mu      sync.RWMutex
	classes map[string]*collection
}

type collection struct {
	order   []string
	objects map[string]map[string]any
}

// New returns an empty store.
func New() *Store {
	return &Store{classes: make(map[string]*collection)}
}

var _ database.Adapter = (*Store)(nil)

func (s *Store) Connect(ctx context.Context) error { return nil }

func (s *Store) Close(ctx context.Context) error { return nil }

func (s *Store) CreateClassIfNotExist(ctx context.Context, className string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.class(className)
	return nil
}

// class returns the collection for className, creating it on first use.
// Callers must hold the write lock.
func (s *Store) class(className string) *collection {
	key := strings.ToLower(className)
	c, ok := s.classes[key]
	if !ok {
		c = &collection{objects: make(map[string]map[string]any)}
		s.classes[key] = c
	}
	return c
}

func (s *Store) GetObject(ctx context.Context, p database.GetObjectParams) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[strings.ToLower(p.ClassName)]
	if !ok {
		return nil, database.ErrObjectNotFound
	}
	object, ok := c.objects[p.ID]
	if !ok {
		return nil, database.ErrObjectNotFound
	}
	return project(object, p.Fields), nil
}

func (s *Store) GetObjects(ctx context.Context, p database.GetObjectsParams) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched, err := s.match(p.ClassName, p.Where)
	if err != nil {
		return nil, err
	}
	matched = window(matched, p.Offset, p.Limit)
	out := make([]map[string]any, 0, len(matched))
	for _, object := range matched {
		out = append(out, project(object, p.Fields))
	}
	return out, nil
}

func (s *Store) CreateObject(ctx context.Context, p database.CreateObjectParams) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object := s.insert(p.ClassName, p.Data)
	return project(object, p.Fields), nil
}

func (s *Store) CreateObjects(ctx context.Context, p database.CreateObjectsParams) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	created := make([]map[string]any, 0, len(p.Data))
	for _, data := range p.Data {
		created = append(created, s.insert(p.ClassName, data))
	}
	created = window(created, p.Offset, p.Limit)
	out := make([]map[string]any, 0, len(created))
	for _, object := range created {
		out = append(out, project(object, p.Fields))
	}
	return out, nil
}

func (s *Store) UpdateObject(ctx context.Context, p database.UpdateObjectParams) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[strings.ToLower(p.ClassName)]
	if !ok {
		return nil, database.ErrObjectNotFound
	}
	object, ok := c.objects[p.ID]
	if !ok {
		return nil, database.ErrObjectNotFound
	}
	for k, v := range p.Data {
		object[k] = v
	}
	return project(object, p.Fields), nil
}

func (s *Store) UpdateObjects(ctx context.Context, p database.UpdateObjectsParams) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched, err := s.match(p.ClassName, p.Where)
	if err != nil {
		return nil, err
	}
	matched = window(matched, p.Offset, p.Limit)
	out := make([]map[string]any, 0, len(matched))
	for _, object := range matched {
		for k, v := range p.Data {
			object[k] = v
		}
		out = append(out, project(object, p.Fields))
	}
	return out, nil
}

func (s *Store) DeleteObject(ctx context.Context, p database.DeleteObjectParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[strings.ToLower(p.ClassName)]
	if !ok {
		return database.ErrObjectNotFound
	}
	if _, ok := c.objects[p.ID]; !ok {
		return database.ErrObjectNotFound
	}
	c.remove(p.ID)
	return nil
}

func (s *Store) DeleteObjects(ctx context.Context, p database.DeleteObjectsParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched, err := s.match(p.ClassName, p.Where)
	if err != nil {
		return err
	}
	c := s.class(p.ClassName)
	for _, object := range matched {
		if id, ok := object["id"].(string); ok {
			c.remove(id)
		}
	}
	return nil
}

func (s *Store) insert(className string, data map[string]any) map[string]any {
	c := s.class(className)
	object := make(map[string]any, len(data)+1)
	for k, v := range data {
		object[k] = v
	}
	id, ok := object["id"].(string)
	if !ok || id == "" {
		id = ids.New()
		object["id"] = id
	}
	if _, exists := c.objects[id]; !exists {
		c.order = append(c.order, id)
	}
	c.objects[id] = object
	return object
}

// match returns matching live objects in insertion order. Callers must
// hold at least the read lock.
func (s *Store) match(className string, where database.Where) ([]map[string]any, error) {
	c, ok := s.classes[strings.ToLower(className)]
	if !ok {
		return nil, nil
	}
	var out []map[string]any
	for _, id := range c.order {
		object, ok := c.objects[id]
		if !ok {
			continue
		}
		match, err := Matches(object, where)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, object)
		}
	}
	return out, nil
}

func (c *collection) remove(id string) {
	delete(c.objects, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func window(objects []map[string]any, offset, limit int) []map[string]any {
	if offset > 0 {
		if offset >= len(objects) {
			return nil
		}
		objects = objects[offset:]
	}
	if limit > 0 && limit < len(objects) {
		objects = objects[:limit]
	}
	return objects
}

// project copies the requested fields out of object. An empty field set
// copies everything. The id field is always included.
func project(object map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		out := make(map[string]any, len(object))
		for k, v := range object {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(fields)+1)
	if id, ok := object["id"]; ok {
		out["id"] = id
	}
	for _, field := range fields {
		base := field
		if i := strings.IndexByte(field, '.'); i >= 0 {
			base = field[:i]
		}
		if v, ok := object[base]; ok {
			out[base] = v
		}
	}
	return out
}

// Dump returns the ids of every stored object of className, in insertion
// order. Test helper.
func (s *Store) Dump(className string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[strings.ToLower(className)]
	if !ok {
		return nil
	}
	out := make([]string, len(c.order))
	copy(out, c.order)
	sort.Strings(out)
	return out
}
