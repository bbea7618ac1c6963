package models

import (
	"sync"
)

// SynchronizedMap is a string-to-string map that is safe to share
// across goroutines. The listener uses one as its in-flight message
// registry: keys are NSQ message ids, values are the stage ids being
// processed, so a stuck drain can log which commits are holding
// shutdown up.
type SynchronizedMap struct {
	data  map[string]string
	mutex sync.RWMutex
}

// NewSynchronizedMap creates a new empty SynchronizedMap.
func NewSynchronizedMap() *SynchronizedMap {
	return &SynchronizedMap{
		data: make(map[string]string),
	}
}

// HasKey returns true if the key exists in the map.
func (syncMap *SynchronizedMap) HasKey(key string) bool {
	syncMap.mutex.RLock()
	_, hasKey := syncMap.data[key]
	syncMap.mutex.RUnlock()
	return hasKey
}

// Add adds a key/value pair to the map.
func (syncMap *SynchronizedMap) Add(key, value string) {
	syncMap.mutex.Lock()
	syncMap.data[key] = value
	syncMap.mutex.Unlock()
}

// Get returns the value of key from the map, or an empty string
// if the key is not present.
func (syncMap *SynchronizedMap) Get(key string) string {
	syncMap.mutex.RLock()
	value := syncMap.data[key]
	syncMap.mutex.RUnlock()
	return value
}

// Delete deletes the specified key from the map.
func (syncMap *SynchronizedMap) Delete(key string) {
	syncMap.mutex.Lock()
	delete(syncMap.data, key)
	syncMap.mutex.Unlock()
}

// Len returns the number of entries in the map. The listener polls
// this while draining on shutdown.
func (syncMap *SynchronizedMap) Len() int {
	syncMap.mutex.RLock()
	length := len(syncMap.data)
	syncMap.mutex.RUnlock()
	return length
}

// Keys returns a slice of all keys in the map.
func (syncMap *SynchronizedMap) Keys() []string {
	syncMap.mutex.RLock()
	keys := make([]string, 0, len(syncMap.data))
	for key := range syncMap.data {
		keys = append(keys, key)
	}
	syncMap.mutex.RUnlock()
	return keys
}

// Values returns a slice of all values in the map.
func (syncMap *SynchronizedMap) Values() []string {
	syncMap.mutex.RLock()
	vals := make([]string, 0, len(syncMap.data))
	for _, val := range syncMap.data {
		vals = append(vals, val)
	}
	syncMap.mutex.RUnlock()
	return vals
}
