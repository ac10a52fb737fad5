package hooks

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/schema"
)

func testSchema(t *testing.T, classes ...*schema.Class) *schema.Schema {
	t.Helper()
	s, err := schema.Load(classes, nil, nil)
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	return s
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestRunOrdersPriorityGroups(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString},
	}})

	pipeline := NewPipeline(s, []Hook{
		{Trigger: database.BeforeCreate, ClassName: "Company", Priority: 2, Fn: func(ctx context.Context, object *Object) error {
			name, _ := object.NewData()["name"].(string)
			return object.UpsertNewData("name", name+"-p2")
		}},
		{Trigger: database.BeforeCreate, ClassName: "Company", Priority: 3, Fn: func(ctx context.Context, object *Object) error {
			name, _ := object.NewData()["name"].(string)
			if !strings.HasSuffix(name, "-p2") {
				return errors.New("priority 2 mutation not visible at priority 3")
			}
			return object.UpsertNewData("name", name+"-p3")
		}},
	}, WithClock(fixedClock()))

	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{"name": "acme"}}
	if err := pipeline.Run(context.Background(), database.BeforeCreate, event); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := event.NewData["name"]; got != "acme-p2-p3" {
		t.Fatalf("name = %v, want acme-p2-p3", got)
	}
}

func TestConcurrentSamePriorityUpserts(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString},
	}})

	// Hooks sharing a priority run concurrently over the same pending
	// payload; repeated upserts from both must interleave safely.
	upsertLoop := func(field string) Callback {
		return func(ctx context.Context, object *Object) error {
			for i := 0; i < 200; i++ {
				if err := object.UpsertNewData(field, i); err != nil {
					return err
				}
				object.NewData()
				object.IsFieldUpdated(field)
			}
			return nil
		}
	}
	pipeline := NewPipeline(s, []Hook{
		{Trigger: database.BeforeCreate, Priority: 5, Fn: upsertLoop("left")},
		{Trigger: database.BeforeCreate, Priority: 5, Fn: upsertLoop("right")},
	}, WithClock(fixedClock()))

	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{"name": "acme"}}
	if err := pipeline.Run(context.Background(), database.BeforeCreate, event); err != nil {
		t.Fatalf("run: %v", err)
	}
	if event.NewData["left"] != 199 || event.NewData["right"] != 199 {
		t.Fatalf("upserts lost: left=%v right=%v", event.NewData["left"], event.NewData["right"])
	}
}

func TestRunFiltersByTriggerAndClass(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString},
	}})

	var companyRuns, otherRuns, updateRuns atomic.Int32
	pipeline := NewPipeline(s, []Hook{
		{Trigger: database.BeforeCreate, ClassName: "Company", Priority: 5, Fn: func(ctx context.Context, object *Object) error {
			companyRuns.Add(1)
			return nil
		}},
		{Trigger: database.BeforeCreate, ClassName: "Invoice", Priority: 5, Fn: func(ctx context.Context, object *Object) error {
			otherRuns.Add(1)
			return nil
		}},
		{Trigger: database.BeforeUpdate, ClassName: "Company", Priority: 5, Fn: func(ctx context.Context, object *Object) error {
			updateRuns.Add(1)
			return nil
		}},
	})

	event := &database.HookEvent{ClassName: "company", NewData: map[string]any{}}
	if err := pipeline.Run(context.Background(), database.BeforeCreate, event); err != nil {
		t.Fatalf("run: %v", err)
	}
	if companyRuns.Load() != 1 || otherRuns.Load() != 0 || updateRuns.Load() != 0 {
		t.Fatalf("runs = %d/%d/%d, want 1/0/0", companyRuns.Load(), otherRuns.Load(), updateRuns.Load())
	}
}

func TestRunSkipHooks(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString},
	}})

	var runs atomic.Int32
	pipeline := NewPipeline(s, []Hook{
		{Trigger: database.BeforeCreate, Priority: 5, Fn: func(ctx context.Context, object *Object) error {
			runs.Add(1)
			return nil
		}},
	})

	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{}, SkipHooks: true}
	if err := pipeline.Run(context.Background(), database.BeforeCreate, event); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runs.Load() != 0 {
		t.Fatalf("hooks ran despite SkipHooks")
	}
	if _, ok := event.NewData["createdAt"]; ok {
		t.Fatalf("default hooks stamped createdAt despite SkipHooks")
	}
}

func TestRunAbortsOnError(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString},
	}})

	boom := errors.New("boom")
	var laterRan atomic.Bool
	pipeline := NewPipeline(s, []Hook{
		{Trigger: database.BeforeCreate, Priority: 2, Fn: func(ctx context.Context, object *Object) error {
			return boom
		}},
		{Trigger: database.BeforeCreate, Priority: 3, Fn: func(ctx context.Context, object *Object) error {
			laterRan.Store(true)
			return nil
		}},
	})

	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{}}
	err := pipeline.Run(context.Background(), database.BeforeCreate, event)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if laterRan.Load() {
		t.Fatalf("higher priority group ran after failure")
	}
}

func TestUpsertNewDataRejectedAfterWrite(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString},
	}})

	pipeline := NewPipeline(s, []Hook{
		{Trigger: database.AfterCreate, Priority: 5, Fn: func(ctx context.Context, object *Object) error {
			return object.UpsertNewData("name", "too late")
		}},
	})

	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{"name": "acme"}}
	err := pipeline.Run(context.Background(), database.AfterCreate, event)
	if !errors.Is(err, ErrInvalidHookMutation) {
		t.Fatalf("err = %v, want ErrInvalidHookMutation", err)
	}
	if event.NewData["name"] != "acme" {
		t.Fatalf("after hook mutated data: %v", event.NewData["name"])
	}
}

func TestDefaultHooksStampTimestampsAndDefaults(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name":    {Type: schema.TypeString},
		"country": {Type: schema.TypeString, DefaultValue: "FR"},
		"size":    {Type: schema.TypeInt, DefaultValue: 1},
	}})

	pipeline := NewPipeline(s, nil, WithClock(fixedClock()))
	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{"name": "acme", "size": 40}}
	if err := pipeline.Run(context.Background(), database.BeforeCreate, event); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := "2026-03-14T09:30:00Z"
	if event.NewData["createdAt"] != want || event.NewData["updatedAt"] != want {
		t.Fatalf("timestamps = %v / %v, want %s", event.NewData["createdAt"], event.NewData["updatedAt"], want)
	}
	if event.NewData["country"] != "FR" {
		t.Fatalf("unset field did not receive default: %v", event.NewData["country"])
	}
	if event.NewData["size"] != 40 {
		t.Fatalf("explicit value overwritten by default: %v", event.NewData["size"])
	}
}

func TestDefaultHooksUpdateStampsUpdatedAtOnly(t *testing.T) {
	s := testSchema(t, &schema.Class{Name: "Company", Fields: map[string]schema.Field{
		"name": {Type: schema.TypeString, DefaultValue: "unnamed"},
	}})

	pipeline := NewPipeline(s, nil, WithClock(fixedClock()))
	event := &database.HookEvent{ClassName: "Company", NewData: map[string]any{}}
	if err := pipeline.Run(context.Background(), database.BeforeUpdate, event); err != nil {
		t.Fatalf("run: %v", err)
	}
	if event.NewData["updatedAt"] != "2026-03-14T09:30:00Z" {
		t.Fatalf("updatedAt = %v", event.NewData["updatedAt"])
	}
	if _, ok := event.NewData["createdAt"]; ok {
		t.Fatalf("update stamped createdAt")
	}
	if _, ok := event.NewData["name"]; ok {
		t.Fatalf("update applied create defaults")
	}
}
