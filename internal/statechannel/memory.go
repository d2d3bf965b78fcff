package statechannel

import (
	"context"
	"sync"
)

// MemoryChannel is an in-process Channel for local runs without Redis and
// for tests. It counts writes per key so callers can assert that an
// operation did or did not touch the feed.
type MemoryChannel struct {
	mu     sync.Mutex
	values map[string]string
	logs   map[string][]string
	writes map[string]int
}

func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		values: make(map[string]string),
		logs:   make(map[string][]string),
		writes: make(map[string]int),
	}
}

func (c *MemoryChannel) Read(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", ErrNoValue
	}
	return v, nil
}

func (c *MemoryChannel) Write(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	c.writes[key]++
	return nil
}

func (c *MemoryChannel) Append(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[key] = append(c.logs[key], value)
	c.writes[key]++
	return nil
}

func (c *MemoryChannel) Close() error { return nil }

// Set stores a value without counting it as a write, the way a sensor
// update arrives from outside the process.
func (c *MemoryChannel) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Value returns the current value of key and whether it is set.
func (c *MemoryChannel) Value(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Log returns a copy of the entries appended under key.
func (c *MemoryChannel) Log(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.logs[key]...)
}

// Writes returns how many Write and Append calls reached key.
func (c *MemoryChannel) Writes(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[key]
}

// TotalWrites sums Writes over every key.
func (c *MemoryChannel) TotalWrites() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.writes {
		n += w
	}
	return n
}
