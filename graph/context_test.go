package graph_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tailored-agentic-units/persistence/graph"
	"github.com/tailored-agentic-units/persistence/owner"
	"github.com/tailored-agentic-units/persistence/save"
	"github.com/tailored-agentic-units/persistence/store"
)

// failingStore rejects every commit with err while serving reads from an
// in-memory store.
type failingStore struct {
	*store.MemoryStore
	err     error
	commits int
}

func (s *failingStore) Commit(ctx context.Context, cs store.ChangeSet) error {
	s.commits++
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Commit(ctx, cs)
}

func newContext(t *testing.T, st store.Store, opts ...graph.Option) *graph.Context {
	t.Helper()
	c, err := graph.New(st, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	if _, err := graph.New(nil); err == nil {
		t.Error("New(nil) should fail")
	}

	_, err := graph.New(store.NewMemoryStore(), graph.WithQueue(save.PrivateQueue, nil))
	if !errors.Is(err, graph.ErrNoQueue) {
		t.Errorf("New() error = %v, want ErrNoQueue", err)
	}
}

func TestContext_Confinement(t *testing.T) {
	unconfined := newContext(t, store.NewMemoryStore())
	if unconfined.ConcurrencyType() != save.Unconfined {
		t.Errorf("ConcurrencyType() = %s, want unconfined", unconfined.ConcurrencyType())
	}
	if unconfined.Scheduler() != nil {
		t.Error("Scheduler() should be nil for unconfined contexts")
	}

	q := owner.NewPrivate()
	t.Cleanup(func() { q.Shutdown(time.Second) })

	confined := newContext(t, store.NewMemoryStore(), graph.WithQueue(save.PrivateQueue, q))
	if confined.ConcurrencyType() != save.PrivateQueue {
		t.Errorf("ConcurrencyType() = %s, want private", confined.ConcurrencyType())
	}
	if confined.Scheduler() == nil || confined.Queue() != q {
		t.Error("confined context should expose its queue")
	}
	if confined.ID() == unconfined.ID() || confined.ID() == "" {
		t.Errorf("context IDs should be unique and non-empty, got %q and %q", confined.ID(), unconfined.ID())
	}
}

func TestContext_Perform(t *testing.T) {
	q := owner.NewPrivate()
	t.Cleanup(func() { q.Shutdown(time.Second) })
	c := newContext(t, store.NewMemoryStore(), graph.WithQueue(save.PrivateQueue, q))

	var onOwner bool
	if err := c.PerformAndWait(context.Background(), func(ctx context.Context) {
		onOwner = owner.IsCurrent(ctx, q)
	}); err != nil {
		t.Fatalf("PerformAndWait() error = %v", err)
	}
	if !onOwner {
		t.Error("PerformAndWait() work did not run on the owner")
	}

	unconfined := newContext(t, store.NewMemoryStore())
	ran := false
	unconfined.Perform(context.Background(), func(context.Context) { ran = true })
	if !ran {
		t.Error("Perform() on an unconfined context should run inline")
	}
}

func TestContext_InsertTracksPendingChanges(t *testing.T) {
	c := newContext(t, store.NewMemoryStore())

	if c.HasChanges() {
		t.Fatal("new context should have no changes")
	}

	obj, err := c.Insert("note", map[string]any{"title": "first"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if obj.ID == "" || obj.Entity != "note" {
		t.Errorf("Insert() = %+v, want ID and entity note", obj)
	}
	if !c.HasChanges() {
		t.Error("HasChanges() = false after Insert")
	}
	if got := c.Changes(); got != (graph.Changes{Inserted: 1}) {
		t.Errorf("Changes() = %+v, want 1 inserted", got)
	}
}

func TestContext_InsertValidation(t *testing.T) {
	c := newContext(t, store.NewMemoryStore())

	for _, entity := range []string{"", "a/b", ".", "..", ".hidden", `a\b`, "a\x00b"} {
		if _, err := c.Insert(entity, nil); !errors.Is(err, graph.ErrInvalidEntity) {
			t.Errorf("Insert(%q) error = %v, want ErrInvalidEntity", entity, err)
		}
	}

	_, err := c.Insert("note", map[string]any{"ch": make(chan int)})
	if !errors.Is(err, graph.ErrInvalidAttributes) {
		t.Errorf("Insert() error = %v, want ErrInvalidAttributes", err)
	}
	if c.HasChanges() {
		t.Error("rejected inserts must not leave pending changes")
	}
}

func TestContext_EntityNamesStayInsideFileStore(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "data")
	st := store.NewFileStore(root)
	c := newContext(t, st)

	for _, entity := range []string{"..", ".hidden"} {
		if _, err := c.Insert(entity, map[string]any{"title": "x"}); !errors.Is(err, graph.ErrInvalidEntity) {
			t.Errorf("Insert(%q) error = %v, want ErrInvalidEntity", entity, err)
		}
	}
	obj, err := c.Insert("note.v2", map[string]any{"title": "x"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "data" {
		t.Errorf("files outside the store root: %v", entries)
	}

	fresh := newContext(t, st)
	if n, err := fresh.Fetch(context.Background(), "note.v2"); err != nil || n != 1 {
		t.Fatalf("Fetch() = %d, %v; want 1, nil", n, err)
	}
	if _, ok := fresh.Object(obj.ID); !ok {
		t.Error("saved object not visible after Fetch")
	}
}

func TestContext_SaveCommitsAndClears(t *testing.T) {
	st := store.NewMemoryStore()
	c := newContext(t, st)

	for _, title := range []string{"a", "b", "c"} {
		if _, err := c.Insert("note", map[string]any{"title": title}); err != nil {
			t.Fatalf("Insert() error = %v", err)
		}
	}

	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if c.HasChanges() {
		t.Error("HasChanges() = true after Save")
	}
	if st.Len() != 3 {
		t.Errorf("store holds %d entries, want 3", st.Len())
	}
}

func TestContext_SaveFailureKeepsPendingChanges(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore(), err: fs.ErrPermission}
	c := newContext(t, st)

	c.Insert("note", map[string]any{"title": "a"})
	c.Insert("note", map[string]any{"title": "b"})
	before := c.Changes()

	err := c.Save(context.Background())
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("Save() error = %v, want ErrPermission", err)
	}
	if got := c.Changes(); got != before {
		t.Errorf("Changes() = %+v after failed save, want %+v", got, before)
	}
	if st.Len() != 0 {
		t.Errorf("store holds %d entries after failed save, want 0", st.Len())
	}

	st.err = nil
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if st.Len() != 2 || c.HasChanges() {
		t.Errorf("second save: store=%d entries, HasChanges=%v; want 2, false", st.Len(), c.HasChanges())
	}
}

func TestContext_UpdateAndDeleteAfterSave(t *testing.T) {
	st := store.NewMemoryStore()
	c := newContext(t, st)

	keep, _ := c.Insert("task", map[string]any{"done": false})
	drop, _ := c.Insert("task", map[string]any{"done": false})
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := c.Update(keep.ID, map[string]any{"done": true}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := c.Delete(drop.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := c.Changes(); got != (graph.Changes{Updated: 1, Deleted: 1}) {
		t.Errorf("Changes() = %+v, want 1 updated, 1 deleted", got)
	}

	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	keys, _ := st.List(context.Background())
	if len(keys) != 1 || keys[0] != keep.Key() {
		t.Fatalf("store keys = %v, want [%s]", keys, keep.Key())
	}

	fresh := newContext(t, st)
	if _, err := fresh.Fetch(context.Background(), "task"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	got, ok := fresh.Object(keep.ID)
	if !ok {
		t.Fatal("Object() not found after Fetch")
	}
	if got.Attributes["done"] != true {
		t.Errorf("done = %v, want true", got.Attributes["done"])
	}
}

func TestContext_DeleteInsertedObjectForgetsIt(t *testing.T) {
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	c := newContext(t, st)

	obj, _ := c.Insert("note", nil)
	if err := c.Delete(obj.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.HasChanges() {
		t.Error("HasChanges() = true after deleting an unsaved insert")
	}

	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if st.commits != 0 {
		t.Errorf("store saw %d commits, want 0", st.commits)
	}
}

func TestContext_UnknownObject(t *testing.T) {
	c := newContext(t, store.NewMemoryStore())

	if err := c.Update("missing", nil); !errors.Is(err, graph.ErrObjectNotFound) {
		t.Errorf("Update() error = %v, want ErrObjectNotFound", err)
	}
	if err := c.Delete("missing"); !errors.Is(err, graph.ErrObjectNotFound) {
		t.Errorf("Delete() error = %v, want ErrObjectNotFound", err)
	}
}

func TestContext_ObjectsAreCopies(t *testing.T) {
	c := newContext(t, store.NewMemoryStore())
	obj, _ := c.Insert("note", map[string]any{"title": "original"})

	obj.Attributes["title"] = "tampered"
	got, _ := c.Object(obj.ID)
	if got.Attributes["title"] != "original" {
		t.Errorf("title = %v, want original", got.Attributes["title"])
	}
}

func TestContext_NestedAttributesAreCopied(t *testing.T) {
	c := newContext(t, store.NewMemoryStore())

	tags := []any{"home"}
	meta := map[string]any{"owner": "sam"}
	obj, err := c.Insert("note", map[string]any{"tags": tags, "meta": meta})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	tags[0] = "work"
	meta["owner"] = "alex"

	extra := map[string]any{"level": "high"}
	if err := c.Update(obj.ID, map[string]any{"extra": extra}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	extra["level"] = "low"

	got, _ := c.Object(obj.ID)
	if got.Attributes["tags"].([]any)[0] != "home" {
		t.Errorf("tags = %v, want [home]", got.Attributes["tags"])
	}
	if got.Attributes["meta"].(map[string]any)["owner"] != "sam" {
		t.Errorf("meta = %v, want owner sam", got.Attributes["meta"])
	}
	if got.Attributes["extra"].(map[string]any)["level"] != "high" {
		t.Errorf("extra = %v, want level high", got.Attributes["extra"])
	}

	got.Attributes["tags"].([]any)[0] = "tampered"
	again, _ := c.Object(obj.ID)
	if again.Attributes["tags"].([]any)[0] != "home" {
		t.Errorf("Object() shares nested values: %v", again.Attributes["tags"])
	}
}

func TestContext_ObjectsInCreationOrder(t *testing.T) {
	c := newContext(t, store.NewMemoryStore())

	var want []string
	for range 5 {
		obj, _ := c.Insert("note", nil)
		want = append(want, obj.ID)
	}
	c.Insert("task", nil)

	got := c.Objects("note")
	if len(got) != len(want) {
		t.Fatalf("Objects() returned %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Objects()[%d] = %s, want %s", i, got[i].ID, want[i])
		}
	}
}

// staleListStore lists keys that were deleted after they were listed.
type staleListStore struct {
	*store.MemoryStore
	extra []string
}

func (s staleListStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.MemoryStore.List(ctx)
	return append(keys, s.extra...), err
}

func TestContext_FetchSkipsKeysDeletedSinceListing(t *testing.T) {
	mem := store.NewMemoryStore()
	writer := newContext(t, mem)
	kept, _ := writer.Insert("note", map[string]any{"title": "kept"})
	if err := writer.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	st := staleListStore{MemoryStore: mem, extra: []string{"note/gone"}}
	reader := newContext(t, st)
	n, err := reader.Fetch(context.Background(), "note")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Fetch() = %d, want 1", n)
	}
	if _, ok := reader.Object(kept.ID); !ok {
		t.Error("surviving object missing after Fetch")
	}
}

func TestContext_FetchSkipsTrackedObjects(t *testing.T) {
	st := store.NewMemoryStore()
	writer := newContext(t, st)
	a, _ := writer.Insert("note", map[string]any{"title": "a"})
	writer.Insert("note", map[string]any{"title": "b"})
	writer.Insert("task", map[string]any{"title": "t"})
	if err := writer.Save(context.Background()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	added, err := writer.Fetch(context.Background(), "note")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if added != 0 {
		t.Errorf("Fetch() on writer added %d, want 0", added)
	}

	reader := newContext(t, st)
	added, err = reader.Fetch(context.Background(), "note")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if added != 2 {
		t.Errorf("Fetch() added %d, want 2", added)
	}
	if reader.HasChanges() {
		t.Error("fetched objects must not be pending")
	}
	if got, ok := reader.Object(a.ID); !ok || got.Attributes["title"] != "a" {
		t.Errorf("Object(a) = %+v, %v", got, ok)
	}
}
