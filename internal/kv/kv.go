package kv

// Store is the persisted key-value surface shared by the thread and rule
// collections. Each collection serializes under its own key.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Delete removes key; removing a missing key is not an error.
	Delete(key string) error

	// Lifecycle
	Close() error
}
