// Package interaction holds question/answer records and the display log.
package interaction

import (
	"sync"
	"time"
)

// Interaction is one answered question. It is never mutated after creation.
type Interaction struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Log is the in-memory interaction display list, newest first.
type Log struct {
	mu      sync.RWMutex
	entries []Interaction
}

func NewLog() *Log {
	return &Log{}
}

// Prepend adds it at the head of the log.
func (l *Log) Prepend(it Interaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append([]Interaction{it}, l.entries...)
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Replace loads a session's interactions, given oldest first as the store
// returns them, so that the newest ends up at the head.
func (l *Log) Replace(oldestFirst []Interaction) {
	entries := make([]Interaction, len(oldestFirst))
	for i, it := range oldestFirst {
		entries[len(oldestFirst)-1-i] = it
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
}

// Snapshot returns a copy of the entries, newest first.
func (l *Log) Snapshot() []Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Interaction(nil), l.entries...)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
