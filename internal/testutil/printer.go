// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// Lines is a Printer that records every formatted line.
type Lines struct {
	mu    sync.Mutex
	lines []string
}

func (l *Lines) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// All returns a copy of the recorded lines.
func (l *Lines) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// Contains reports whether any recorded line contains substr.
func (l *Lines) Contains(substr string) bool {
	for _, line := range l.All() {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// Reset discards recorded lines.
func (l *Lines) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = nil
}
