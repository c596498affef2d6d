// Package emitter drains streamed text into a message at a steady pace so
// output appears incrementally rather than in network-sized bursts.
package emitter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config paces the emitter. An Interval of zero applies text as soon as it
// is pushed.
type Config struct {
	Interval     time.Duration
	CharsPerTick int
}

// Emitter owns a queue of not-yet-rendered characters. A single goroutine
// drains it, calling apply with a few characters per tick.
type Emitter struct {
	cfg     Config
	apply   func(string)
	limiter *rate.Limiter

	mu      sync.Mutex
	queue   []rune
	running bool
	halted  bool
	idle    chan struct{}
	ctx     context.Context
	stop    context.CancelFunc
}

// New returns an emitter that renders through apply. apply is never called
// concurrently with itself and never after Halt returns.
func New(cfg Config, apply func(string)) *Emitter {
	if cfg.CharsPerTick <= 0 {
		cfg.CharsPerTick = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	e := &Emitter{
		cfg:   cfg,
		apply: apply,
		ctx:   ctx,
		stop:  stop,
	}
	if cfg.Interval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return e
}

// Push enqueues text. It never blocks on rendering.
func (e *Emitter) Push(text string) {
	if text == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		return
	}
	if e.limiter == nil {
		e.apply(text)
		return
	}
	e.queue = append(e.queue, []rune(text)...)
	if !e.running {
		e.running = true
		e.idle = make(chan struct{})
		go e.run(e.idle)
	}
}

func (e *Emitter) run(idle chan struct{}) {
	defer close(idle)
	for {
		if err := e.limiter.Wait(e.ctx); err != nil {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return
		}

		e.mu.Lock()
		if e.halted || len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		n := e.cfg.CharsPerTick
		if n > len(e.queue) {
			n = len(e.queue)
		}
		chunk := string(e.queue[:n])
		e.queue = e.queue[n:]
		e.apply(chunk)
		e.mu.Unlock()
	}
}

// Pending returns the number of characters not yet rendered.
func (e *Emitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Halt stops rendering immediately. Text already applied stays; queued
// text is dropped. Halt is idempotent.
func (e *Emitter) Halt() {
	e.mu.Lock()
	e.halted = true
	e.queue = nil
	e.mu.Unlock()
	e.stop()
}

// Drain blocks until the queue is empty, the emitter is halted, or ctx is
// done.
func (e *Emitter) Drain(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
