package registry

import "sync"

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	entries sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (st *MemoryStore) Save(entry *Entry) {
	st.entries.Store(entry.SessionID, entry)
}

func (st *MemoryStore) Get(sessionID string) (*Entry, bool) {
	val, ok := st.entries.Load(sessionID)
	if !ok {
		return nil, false
	}
	return val.(*Entry), true
}

func (st *MemoryStore) Delete(sessionID string) {
	st.entries.Delete(sessionID)
}

func (st *MemoryStore) List() []*Entry {
	var entries []*Entry
	st.entries.Range(func(_, value interface{}) bool {
		entries = append(entries, value.(*Entry))
		return true
	})
	return entries
}

func (st *MemoryStore) Close() error {
	return nil
}
