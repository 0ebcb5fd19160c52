package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Table is a string-keyed journaled map. Writes need the Tx of the running
// call so they can be undone and persisted. Reads are safe from any
// goroutine but may observe a call in flight; readers outside a call that
// need committed state go through State.View.
// Values are stored as given: callers must not mutate a value after Set or
// one obtained from Get.
type Table[V any] struct {
	name string
	mu   sync.RWMutex
	data map[string]V
}

// NewTable registers a table named name with st. Names must be unique.
func NewTable[V any](st *State, name string) *Table[V] {
	t := &Table[V]{name: name, data: make(map[string]V)}
	st.register(t)
	return t
}

func (t *Table[V]) tableName() string { return t.name }

func (t *Table[V]) Get(key string) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.data[key]
	return v, ok
}

func (t *Table[V]) Has(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.data[key]
	return ok
}

func (t *Table[V]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.data)
}

// Keys returns all keys in ascending order.
func (t *Table[V]) Keys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := make([]string, 0, len(t.data))
	for k := range t.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Init seeds key with v outside of any call. It is meant for constructor
// defaults and is overridden by State.Load.
func (t *Table[V]) Init(key string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = v
}

func (t *Table[V]) Set(tx *Tx, key string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, existed := t.data[key]
	tx.OnRevert(func() {
		if existed {
			t.put(key, prev)
		} else {
			t.remove(key)
		}
	})
	tx.touch(t, key)
	t.data[key] = v
}

func (t *Table[V]) Delete(tx *Tx, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, existed := t.data[key]
	if !existed {
		return
	}
	tx.OnRevert(func() { t.put(key, prev) })
	tx.touch(t, key)
	delete(t.data, key)
}

func (t *Table[V]) put(key string, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data[key] = v
}

func (t *Table[V]) remove(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.data, key)
}

func (t *Table[V]) encode(key string) ([]byte, bool, error) {
	v, ok := t.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("encode %s/%s: %w", t.name, key, err)
	}
	return raw, true, nil
}

func (t *Table[V]) restore(raw map[string][]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, b := range raw {
		var v V
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("decode %s/%s: %w", t.name, k, err)
		}
		t.data[k] = v
	}
	return nil
}

const slotKey = "value"

// Slot is a single journaled value.
type Slot[V any] struct {
	t *Table[V]
}

func NewSlot[V any](st *State, name string, initial V) *Slot[V] {
	s := &Slot[V]{t: NewTable[V](st, name)}
	s.t.Init(slotKey, initial)
	return s
}

func (s *Slot[V]) Get() V {
	v, _ := s.t.Get(slotKey)
	return v
}

func (s *Slot[V]) Set(tx *Tx, v V) { s.t.Set(tx, slotKey, v) }
