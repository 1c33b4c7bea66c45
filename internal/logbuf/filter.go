package logbuf

import (
	"strings"
	"sync"
)

// Filter is the substring filter applied to incoming lines. An empty
// filter accepts everything.
type Filter struct {
	mu    sync.RWMutex
	value string
}

// Get returns the current filter value.
func (f *Filter) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.value
}

// Set replaces the filter value.
func (f *Filter) Set(value string) {
	f.mu.Lock()
	f.value = value
	f.mu.Unlock()
}

// Accept reports whether line passes the filter as it stands right now.
func (f *Filter) Accept(line string) bool {
	v := f.Get()
	return v == "" || strings.Contains(line, v)
}
