package device

import "sync"

// cell is a computed-once value. A failed computation is not cached, so the
// next get retries it.
type cell[T any] struct {
	mu   sync.Mutex
	done bool
	v    T
}

func (c *cell[T]) get(compute func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return c.v, nil
	}

	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}

	c.v = v
	c.done = true

	return v, nil
}

func (c *cell[T]) cached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}
