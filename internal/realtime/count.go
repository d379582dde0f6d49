package realtime

import (
	"context"
	"sync"
	"time"
)

// Count is an observable integer backed by an authoritative pull. Push triggers and the poll
// interval both cause a re-pull; subscribers only hear about changes.
type Count struct {
	pull    func(context.Context) (int, error)
	updates chan int

	mu    sync.Mutex
	value int
	known bool
}

func NewCount(pull func(context.Context) (int, error)) *Count {
	return &Count{pull: pull, updates: make(chan int, 1)}
}

func (c *Count) Updates() <-chan int { return c.updates }

func (c *Count) Value() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.known
}

// Pull refreshes the value and emits it when it changed.
func (c *Count) Pull(ctx context.Context) (int, error) {
	v, err := c.pull(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	changed := !c.known || v != c.value
	c.value, c.known = v, true
	c.mu.Unlock()
	if changed {
		// Keep only the latest value for slow readers.
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- v:
		default:
		}
	}
	return v, nil
}

// Run pulls once, then on every tick and every trigger, until ctx is done or triggers closes.
// Pull errors are passed to onErr and do not stop the loop.
func (c *Count) Run(ctx context.Context, every time.Duration, triggers <-chan struct{}, onErr func(error)) {
	report := func(err error) {
		if err != nil && onErr != nil && ctx.Err() == nil {
			onErr(err)
		}
	}
	_, err := c.Pull(ctx)
	report(err)

	var tick <-chan time.Time
	if every > 0 {
		t := time.NewTicker(every)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case _, ok := <-triggers:
			if !ok {
				return
			}
		}
		_, err := c.Pull(ctx)
		report(err)
	}
}
