package database_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"graphbase.dev/internal/database"
	"graphbase.dev/internal/hooks"
	"graphbase.dev/internal/schema"
	"graphbase.dev/internal/store/memstore"
)

// recordingRunner counts pipeline runs per trigger without executing hooks.
type recordingRunner struct {
	mu   sync.Mutex
	runs map[database.Trigger]int
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{runs: map[database.Trigger]int{}}
}

func (r *recordingRunner) Run(ctx context.Context, trigger database.Trigger, event *database.HookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[trigger]++
	return nil
}

func (r *recordingRunner) count(trigger database.Trigger) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[trigger]
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Load([]*schema.Class{
		{
			Name: "Author",
			Fields: map[string]schema.Field{
				"name": {Type: schema.TypeString, Required: true},
			},
		},
		{
			Name: "Book",
			Fields: map[string]schema.Field{
				"title":    {Type: schema.TypeString, Required: true},
				"author":   {Type: schema.TypePointer, Class: "Author"},
				"chapters": {Type: schema.TypeRelation, Class: "Chapter"},
			},
		},
		{
			Name: "Chapter",
			Fields: map[string]schema.Field{
				"heading": {Type: schema.TypeString},
			},
		},
	}, nil, nil)
	if err != nil {
		t.Fatalf("schema.Load: %v", err)
	}
	return s
}

func newController(t *testing.T) (*database.Controller, context.Context) {
	t.Helper()
	s := testSchema(t)
	controller := database.NewController(memstore.New(), s, hooks.NewPipeline(s, nil))
	ctx := database.NewRootContext(context.Background(), controller)
	return controller, ctx
}

func mustCreate(t *testing.T, ctx context.Context, c *database.Controller, className string, data map[string]any) map[string]any {
	t.Helper()
	object, err := c.CreateObject(ctx, database.CreateObjectParams{ClassName: className, Data: data})
	if err != nil {
		t.Fatalf("create %s: %v", className, err)
	}
	return object
}

func TestUnknownClass(t *testing.T) {
	controller, ctx := newController(t)
	_, err := controller.GetObjects(ctx, database.GetObjectsParams{ClassName: "Ghost"})
	if !errors.Is(err, database.ErrUnknownClass) {
		t.Fatalf("err = %v, want ErrUnknownClass", err)
	}
}

func TestGetObjectMissingIsNil(t *testing.T) {
	controller, ctx := newController(t)
	object, err := controller.GetObject(ctx, database.GetObjectParams{ClassName: "Author", ID: "missing"})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if object != nil {
		t.Fatalf("object = %v, want nil", object)
	}
}

func TestPointerResolution(t *testing.T) {
	controller, ctx := newController(t)
	author := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Ada"})
	book := mustCreate(t, ctx, controller, "Book", map[string]any{
		"title":  "Notes",
		"author": author["id"],
	})

	got, err := controller.GetObject(ctx, database.GetObjectParams{
		ClassName: "Book",
		ID:        book["id"].(string),
		Fields:    []string{"title", "author.name"},
	})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	sub, ok := got["author"].(map[string]any)
	if !ok {
		t.Fatalf("author = %v, want a resolved object", got["author"])
	}
	if sub["name"] != "Ada" || sub["id"] != author["id"] {
		t.Fatalf("author = %v", sub)
	}
}

func TestNilPointerStaysNil(t *testing.T) {
	controller, ctx := newController(t)
	book := mustCreate(t, ctx, controller, "Book", map[string]any{"title": "Orphan"})

	got, err := controller.GetObject(ctx, database.GetObjectParams{
		ClassName: "Book",
		ID:        book["id"].(string),
		Fields:    []string{"title", "author.name"},
	})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	if got["author"] != nil {
		t.Fatalf("author = %v, want nil", got["author"])
	}
}

func TestRelationResolutionWrapsEdges(t *testing.T) {
	controller, ctx := newController(t)
	ch1 := mustCreate(t, ctx, controller, "Chapter", map[string]any{"heading": "One"})
	ch2 := mustCreate(t, ctx, controller, "Chapter", map[string]any{"heading": "Two"})
	book := mustCreate(t, ctx, controller, "Book", map[string]any{
		"title":    "Notes",
		"chapters": []any{ch1["id"], ch2["id"]},
	})

	got, err := controller.GetObject(ctx, database.GetObjectParams{
		ClassName: "Book",
		ID:        book["id"].(string),
		Fields:    []string{"chapters.heading"},
	})
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	connection, ok := got["chapters"].(map[string]any)
	if !ok {
		t.Fatalf("chapters = %v", got["chapters"])
	}
	edges, ok := connection["edges"].([]map[string]any)
	if !ok || len(edges) != 2 {
		t.Fatalf("edges = %v", connection["edges"])
	}
	node := edges[0]["node"].(map[string]any)
	if node["heading"] != "One" {
		t.Fatalf("node = %v", node)
	}
}

func TestWhereRewriteOnPointerField(t *testing.T) {
	controller, ctx := newController(t)
	ada := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Ada"})
	grace := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Grace"})
	mustCreate(t, ctx, controller, "Book", map[string]any{"title": "ByAda", "author": ada["id"]})
	mustCreate(t, ctx, controller, "Book", map[string]any{"title": "ByGrace", "author": grace["id"]})

	books, err := controller.GetObjects(ctx, database.GetObjectsParams{
		ClassName: "Book",
		Where: database.Where{
			"author": map[string]any{"name": map[string]any{database.OpEqualTo: "Ada"}},
		},
		Fields: []string{"title"},
	})
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	if len(books) != 1 || books[0]["title"] != "ByAda" {
		t.Fatalf("books = %v", books)
	}
}

func TestWhereRewriteOnRelationField(t *testing.T) {
	controller, ctx := newController(t)
	one := mustCreate(t, ctx, controller, "Chapter", map[string]any{"heading": "One"})
	two := mustCreate(t, ctx, controller, "Chapter", map[string]any{"heading": "Two"})
	mustCreate(t, ctx, controller, "Book", map[string]any{
		"title":    "WithOne",
		"chapters": []any{one["id"]},
	})
	mustCreate(t, ctx, controller, "Book", map[string]any{
		"title":    "WithTwo",
		"chapters": []any{two["id"]},
	})

	books, err := controller.GetObjects(ctx, database.GetObjectsParams{
		ClassName: "Book",
		Where: database.Where{
			"chapters": map[string]any{"heading": map[string]any{database.OpEqualTo: "One"}},
		},
		Fields: []string{"title"},
	})
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	if len(books) != 1 || books[0]["title"] != "WithOne" {
		t.Fatalf("books = %v, want the book whose chapters contain the matched id", books)
	}
}

func TestWhereRewriteEmptyMatchSet(t *testing.T) {
	controller, ctx := newController(t)
	ada := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Ada"})
	mustCreate(t, ctx, controller, "Book", map[string]any{"title": "ByAda", "author": ada["id"]})

	books, err := controller.GetObjects(ctx, database.GetObjectsParams{
		ClassName: "Book",
		Where: database.Where{
			"author": map[string]any{"name": map[string]any{database.OpEqualTo: "Nobody"}},
		},
	})
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	if len(books) != 0 {
		t.Fatalf("books = %v, want none", books)
	}
}

func TestDeleteObjectReturnsSnapshot(t *testing.T) {
	controller, ctx := newController(t)
	author := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Ada"})

	snapshot, err := controller.DeleteObject(ctx, database.DeleteObjectParams{
		ClassName: "Author",
		ID:        author["id"].(string),
		Fields:    []string{"name"},
	})
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if snapshot["name"] != "Ada" {
		t.Fatalf("snapshot = %v", snapshot)
	}

	got, err := controller.GetObject(ctx, database.GetObjectParams{ClassName: "Author", ID: author["id"].(string)})
	if err != nil || got != nil {
		t.Fatalf("object survived delete: %v %v", got, err)
	}
}

func TestDeleteObjectMissingShortCircuits(t *testing.T) {
	s := testSchema(t)
	runner := newRecordingRunner()
	controller := database.NewController(memstore.New(), s, runner)
	ctx := database.NewRootContext(context.Background(), controller)

	snapshot, err := controller.DeleteObject(ctx, database.DeleteObjectParams{
		ClassName: "Author",
		ID:        "missing",
	})
	if err != nil {
		t.Fatalf("DeleteObject: %v", err)
	}
	if snapshot != nil {
		t.Fatalf("snapshot = %v, want nil", snapshot)
	}
	if runner.count(database.BeforeDelete) != 0 {
		t.Error("delete hooks must not run for a missing id")
	}
}

// countingAdapter tallies adapter reads per class.
type countingAdapter struct {
	*memstore.Store
	mu    sync.Mutex
	reads map[string]int
}

func (a *countingAdapter) GetObjects(ctx context.Context, p database.GetObjectsParams) ([]map[string]any, error) {
	a.mu.Lock()
	a.reads[p.ClassName]++
	a.mu.Unlock()
	return a.Store.GetObjects(ctx, p)
}

func TestDeleteObjectsResolvesPointerFilterOnce(t *testing.T) {
	s := testSchema(t)
	adapter := &countingAdapter{Store: memstore.New(), reads: map[string]int{}}
	controller := database.NewController(adapter, s, hooks.NewPipeline(s, nil))
	ctx := database.NewRootContext(context.Background(), controller)

	ada := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Ada"})
	grace := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Grace"})
	mustCreate(t, ctx, controller, "Book", map[string]any{"title": "ByAda", "author": ada["id"]})
	mustCreate(t, ctx, controller, "Book", map[string]any{"title": "ByGrace", "author": grace["id"]})
	adapter.reads = map[string]int{}

	snapshots, err := controller.DeleteObjects(ctx, database.DeleteObjectsParams{
		ClassName: "Book",
		Where: database.Where{
			"author": map[string]any{"name": map[string]any{database.OpEqualTo: "Ada"}},
		},
		Fields: []string{"title"},
	})
	if err != nil {
		t.Fatalf("DeleteObjects: %v", err)
	}
	if len(snapshots) != 1 || snapshots[0]["title"] != "ByAda" {
		t.Fatalf("snapshots = %v", snapshots)
	}
	if got := adapter.reads["Author"]; got != 1 {
		t.Errorf("Author reads = %d, want one pointer-filter resolution", got)
	}
}

func TestCreateObjectsRunsOnePipelinePerElement(t *testing.T) {
	s := testSchema(t)
	runner := newRecordingRunner()
	controller := database.NewController(memstore.New(), s, runner)
	ctx := database.NewRootContext(context.Background(), controller)

	_, err := controller.CreateObjects(ctx, database.CreateObjectsParams{
		ClassName: "Author",
		Data: []map[string]any{
			{"name": "Ada"}, {"name": "Grace"}, {"name": "Edsger"},
		},
	})
	if err != nil {
		t.Fatalf("CreateObjects: %v", err)
	}
	if got := runner.count(database.BeforeCreate); got != 3 {
		t.Errorf("BeforeCreate runs = %d, want one per element", got)
	}
	if got := runner.count(database.AfterCreate); got != 3 {
		t.Errorf("AfterCreate runs = %d, want one per element", got)
	}
}

func TestUpdateObjectsRunsSharedPipeline(t *testing.T) {
	s := testSchema(t)
	runner := newRecordingRunner()
	controller := database.NewController(memstore.New(), s, runner)
	ctx := database.NewRootContext(context.Background(), controller)

	for _, name := range []string{"Ada", "Grace", "Edsger"} {
		mustCreate(t, ctx, controller, "Author", map[string]any{"name": name})
	}
	runner.runs = map[database.Trigger]int{}

	_, err := controller.UpdateObjects(ctx, database.UpdateObjectsParams{
		ClassName: "Author",
		Where:     database.Where{},
		Data:      map[string]any{"name": "Anon"},
	})
	if err != nil {
		t.Fatalf("UpdateObjects: %v", err)
	}
	if got := runner.count(database.BeforeUpdate); got != 1 {
		t.Errorf("BeforeUpdate runs = %d, want one shared pipeline", got)
	}
	if got := runner.count(database.AfterUpdate); got != 1 {
		t.Errorf("AfterUpdate runs = %d, want one shared pipeline", got)
	}
}

func TestHookMutationReachesAdapter(t *testing.T) {
	s := testSchema(t)
	custom := []hooks.Hook{{
		Trigger:   database.BeforeCreate,
		ClassName: "Author",
		Priority:  2,
		Fn: func(ctx context.Context, object *hooks.Object) error {
			return object.UpsertNewData("name", "Renamed")
		},
	}}
	controller := database.NewController(memstore.New(), s, hooks.NewPipeline(s, custom))
	ctx := database.NewRootContext(context.Background(), controller)

	created := mustCreate(t, ctx, controller, "Author", map[string]any{"name": "Ada"})
	if created["name"] != "Renamed" {
		t.Fatalf("name = %v, want the hook-mutated value", created["name"])
	}
}

func TestHookErrorAbortsOperation(t *testing.T) {
	s := testSchema(t)
	boom := errors.New("boom")
	custom := []hooks.Hook{{
		Trigger:  database.BeforeCreate,
		Priority: 2,
		Fn: func(ctx context.Context, object *hooks.Object) error {
			return boom
		},
	}}
	store := memstore.New()
	controller := database.NewController(store, s, hooks.NewPipeline(s, custom))
	ctx := database.NewRootContext(context.Background(), controller)

	_, err := controller.CreateObject(ctx, database.CreateObjectParams{
		ClassName: "Author",
		Data:      map[string]any{"name": "Ada"},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the hook error", err)
	}
	if got := store.Dump("Author"); len(got) != 0 {
		t.Fatalf("adapter wrote despite aborted pipeline: %v", got)
	}
}
