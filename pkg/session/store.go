// Package session holds the small per-visitor key/value state the login
// flow needs between requests.
package session

import "sync"

// Namespace prefixes every key the SDK writes
const Namespace = "nkconnect"

// Field names stored per application key
const (
	FieldToken   = "token"
	FieldExpiry  = "expiry"
	FieldRefresh = "refresh"
	FieldOTP     = "otp"
)

// Store is a string key/value store scoped to one visitor.
// Absent keys report ok=false.
type Store interface {
	Get(key string) (value string, ok bool)
	Set(key, value string)
	Unset(key string)
}

// Keys builds namespaced session keys for one application
type Keys struct {
	Namespace string
	AppKey    string
}

// NewKeys returns the SDK key builder for appKey
func NewKeys(appKey string) Keys {
	return Keys{Namespace: Namespace, AppKey: appKey}
}

// Key returns "<namespace>_<app key>_<field>"
func (k Keys) Key(field string) string {
	return k.Namespace + "_" + k.AppKey + "_" + field
}

// All returns every key the login flow owns
func (k Keys) All() []string {
	return []string{
		k.Key(FieldToken),
		k.Key(FieldExpiry),
		k.Key(FieldRefresh),
		k.Key(FieldOTP),
	}
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *MemoryStore) Unset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

// Len reports the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

var _ Store = (*MemoryStore)(nil)
