package provision

import (
	"fmt"
	"sort"
	"sync"
)

// IDMap maps local ids (catalog keys such as "obj-germany-growth") to the
// GUIDs the Web API assigned. It only grows: a key, once bound, keeps its GUID
// for the rest of the run.
//
// Thread-safety: IDMap is safe for concurrent use via internal mutex, although
// the runner itself is sequential.
type IDMap struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewIDMap creates an empty map.
func NewIDMap() *IDMap {
	return &IDMap{ids: make(map[string]string)}
}

// Set binds key to guid. Binding the same GUID again is a no-op; binding a
// different GUID returns ErrConflictingID.
func (m *IDMap) Set(key, guid string) error {
	if key == "" || guid == "" {
		return fmt.Errorf("id map: empty key or guid (key=%q)", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.ids[key]; ok {
		if prev == guid {
			return nil
		}
		return fmt.Errorf("%w: %s already bound to %s, got %s", ErrConflictingID, key, prev, guid)
	}
	m.ids[key] = guid
	return nil
}

// Get returns the GUID for key, or an error wrapping ErrUnresolvedReference.
func (m *IDMap) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	guid, ok := m.ids[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnresolvedReference, key)
	}
	return guid, nil
}

// Has reports whether key is bound.
func (m *IDMap) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[key]
	return ok
}

// Len returns the number of bound keys.
func (m *IDMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Keys returns the bound keys in sorted order.
func (m *IDMap) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.ids))
	for k := range m.ids {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
