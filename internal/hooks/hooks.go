// Package hooks runs ordered callbacks around every database operation.
// Hooks are grouped by ascending priority; hooks sharing a priority run
// concurrently, and a lower group always completes before a higher one
// starts. Any callback error aborts the pipeline and the surrounding
// operation.
package hooks

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/schema"
)

// ErrInvalidHookMutation is returned when a callback tries to mutate the
// pending data from an after stage. This is a programmer error and fails
// the whole operation.
var ErrInvalidHookMutation = errors.New("hooks: cannot mutate data outside a before hook")

// Callback receives the hook object for one pipeline stage. The request
// context, including the controller handle, travels inside ctx.
type Callback func(ctx context.Context, object *Object) error

// Hook registers a callback for a trigger. An empty ClassName applies the
// hook to every class.
type Hook struct {
	Trigger   database.Trigger
	ClassName string
	Priority  int
	Fn        Callback
}

// Object is the view of one operation handed to callbacks. Hooks sharing a
// priority run concurrently over the same Object, so access to the pending
// payload is serialized; concurrent upserts of one field are last-write-wins.
type Object struct {
	trigger database.Trigger
	event   *database.HookEvent
	user    *database.SessionUser

	mu sync.Mutex
}

// ClassName returns the class the operation targets.
func (o *Object) ClassName() string { return o.event.ClassName }

// User returns the authenticated user, or nil for anonymous and root
// requests.
func (o *Object) User() *database.SessionUser { return o.user }

// NewData returns a copy of the pending write payload. Nil for reads and
// deletes. Mutations go through UpsertNewData.
func (o *Object) NewData() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.event.NewData == nil {
		return nil
	}
	out := make(map[string]any, len(o.event.NewData))
	for k, v := range o.event.NewData {
		out[k] = v
	}
	return out
}

// Snapshot returns the pre-mutation object for update and delete
// operations, nil otherwise.
func (o *Object) Snapshot() map[string]any { return o.event.Object }

// IsFieldUpdated reports whether the pending payload already sets field.
func (o *Object) IsFieldUpdated(field string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.event.NewData == nil {
		return false
	}
	_, ok := o.event.NewData[field]
	return ok
}

// UpsertNewData sets field on the pending payload. It fails with
// ErrInvalidHookMutation during after stages, where the write has already
// happened.
func (o *Object) UpsertNewData(field string, value any) error {
	if !o.trigger.Before() {
		return ErrInvalidHookMutation
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.event.NewData == nil {
		return nil
	}
	o.event.NewData[field] = value
	return nil
}

// Pipeline holds the registered hooks plus the defaults (timestamps,
// default values, permission enforcement). It implements
// database.HookRunner.
type Pipeline struct {
	schema *schema.Schema
	hooks  []Hook
	now    func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.now = fn
		}
	}
}

// NewPipeline builds the pipeline from the application hooks and the
// built-in defaults.
func NewPipeline(s *schema.Schema, custom []Hook, opts ...Option) *Pipeline {
	p := &Pipeline{schema: s, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	p.hooks = append(p.hooks, p.defaultHooks()...)
	p.hooks = append(p.hooks, custom...)
	return p
}

var _ database.HookRunner = (*Pipeline)(nil)

// Run executes the stage for one operation. Mutations committed by
// before-hooks land in event.NewData, which the controller persists.
func (p *Pipeline) Run(ctx context.Context, trigger database.Trigger, event *database.HookEvent) error {
	if event.SkipHooks {
		return nil
	}

	matching := make([]Hook, 0, len(p.hooks))
	for _, hook := range p.hooks {
		if hook.Trigger != trigger {
			continue
		}
		if hook.ClassName != "" && !strings.EqualFold(hook.ClassName, event.ClassName) {
			continue
		}
		matching = append(matching, hook)
	}
	if len(matching) == 0 {
		return nil
	}

	object := &Object{
		trigger: trigger,
		event:   event,
		user:    database.FromContext(ctx).User,
	}

	for _, priority := range distinctPriorities(matching) {
		g, gctx := errgroup.WithContext(ctx)
		for _, hook := range matching {
			if hook.Priority != priority {
				continue
			}
			fn := hook.Fn
			g.Go(func() error { return fn(gctx, object) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func distinctPriorities(hooks []Hook) []int {
	seen := make(map[int]bool)
	var priorities []int
	for _, hook := range hooks {
		if !seen[hook.Priority] {
			seen[hook.Priority] = true
			priorities = append(priorities, hook.Priority)
		}
	}
	sort.Ints(priorities)
	return priorities
}
