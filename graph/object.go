package graph

import (
	"strings"
)

// Object is one node of the object graph.
type Object struct {
	ID         string
	Entity     string
	Attributes map[string]any
}

// Key returns the store key of the object: entity/id.
func (o Object) Key() string {
	return o.Entity + "/" + o.ID
}

// clone copies the object including every nested map and slice of its
// attributes.
func (o Object) clone() Object {
	o.Attributes = copyMap(o.Attributes)
	return o
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return copyMap(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = copyValue(e)
		}
		return out
	default:
		return v
	}
}

// validEntity reports whether name can be used as the first segment of a
// store key on every store, including the file store.
func validEntity(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func splitKey(key string) (entity, id string, ok bool) {
	entity, id, ok = strings.Cut(key, "/")
	if !ok || entity == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return entity, id, true
}

// Changes counts the pending mutations of a context.
type Changes struct {
	Inserted int
	Updated  int
	Deleted  int
}

// Total returns the number of pending mutations.
func (c Changes) Total() int {
	return c.Inserted + c.Updated + c.Deleted
}
