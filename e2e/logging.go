//go:build e2e

package e2e

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/testcontainers/testcontainers-go"
)

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

func StripAnsi(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

type logWaiter struct {
	router  string
	pattern string
	matched chan struct{}
}

// LogManager keeps the output of every router container and wakes up
// waiters when a line they look for shows up.
type LogManager struct {
	mu      sync.Mutex
	history map[string]*strings.Builder
	waiters []*logWaiter
}

func NewLogManager() *LogManager {
	return &LogManager{history: make(map[string]*strings.Builder)}
}

func (m *LogManager) Accept(router string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.history[router]
	if !ok {
		b = &strings.Builder{}
		m.history[router] = b
	}
	b.WriteString(content)
	full := b.String()
	for _, w := range m.waiters {
		if w.router == router && strings.Contains(full, w.pattern) {
			select {
			case w.matched <- struct{}{}:
			default:
			}
		}
	}
}

// Wait returns a channel that fires once the router has logged pattern,
// including lines logged before the call.
func (m *LogManager) Wait(router string, pattern string) (<-chan struct{}, func()) {
	w := &logWaiter{router: router, pattern: pattern, matched: make(chan struct{}, 1)}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.history[router]; ok && strings.Contains(b.String(), pattern) {
		w.matched <- struct{}{}
	}
	m.waiters = append(m.waiters, w)
	return w.matched, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, x := range m.waiters {
			if x == w {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				break
			}
		}
	}
}

type RouterLogConsumer struct {
	Router  string
	Manager *LogManager
}

func (c *RouterLogConsumer) Accept(l testcontainers.Log) {
	content := StripAnsi(string(l.Content))
	fmt.Printf("[%s:%s] %s", c.Router, l.LogType, content)
	c.Manager.Accept(c.Router, content)
}
