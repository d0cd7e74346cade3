package store

// Entry is a key-value pair in the store namespace. Keys are /-separated
// paths of the form entity/id and values are encoded attribute payloads.
type Entry struct {
	Key   string
	Value []byte
}

// ChangeSet groups the writes and deletes produced by one save.
type ChangeSet struct {
	Save   []Entry
	Delete []string
}

// Empty reports whether the change set carries no work.
func (cs ChangeSet) Empty() bool {
	return len(cs.Save) == 0 && len(cs.Delete) == 0
}

// Keys returns every key touched by the change set in commit order.
func (cs ChangeSet) Keys() []string {
	keys := make([]string, 0, len(cs.Save)+len(cs.Delete))
	for _, e := range cs.Save {
		keys = append(keys, e.Key)
	}
	return append(keys, cs.Delete...)
}
