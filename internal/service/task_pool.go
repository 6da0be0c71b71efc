package service

import (
	"context"
	"errors"
	"sync"

	"sos-relay/internal/models"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("task pool closed")

// TaskPool runs tasks with a separate concurrency budget per channel kind, so a
// backlog on one kind cannot starve the others.
type TaskPool struct {
	mu          sync.Mutex
	sems        map[models.ChannelKind]chan struct{}
	defaultSize int
	closed      bool
	wg          sync.WaitGroup
}

// NewTaskPool creates a pool. Kinds missing from budgets get defaultSize slots.
func NewTaskPool(budgets map[models.ChannelKind]int, defaultSize int) *TaskPool {
	if defaultSize <= 0 {
		defaultSize = 1
	}
	p := &TaskPool{
		sems:        make(map[models.ChannelKind]chan struct{}),
		defaultSize: defaultSize,
	}
	for kind, n := range budgets {
		if n <= 0 {
			n = defaultSize
		}
		p.sems[kind] = make(chan struct{}, n)
	}
	return p
}

func (p *TaskPool) sem(kind models.ChannelKind) chan struct{} {
	s, ok := p.sems[kind]
	if !ok {
		s = make(chan struct{}, p.defaultSize)
		p.sems[kind] = s
	}
	return s
}

// Submit schedules fn on kind's budget. It never blocks the caller; fn starts
// once a slot is free.
func (p *TaskPool) Submit(kind models.ChannelKind, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	sem := p.sem(kind)
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		sem <- struct{}{}
		defer func() { <-sem }()
		fn()
	}()
	return nil
}

// InFlight returns the number of running tasks for kind.
func (p *TaskPool) InFlight(kind models.ChannelKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sem(kind))
}

// Close stops accepting tasks and waits for submitted ones or ctx.
func (p *TaskPool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
