package dispatch

import "sync"

// Pool runs a fixed number of workers, each popping from a shared queue
// until it is closed and drained.
type Pool[T any] struct {
	queue   *Queue[T]
	workers int
	handle  func(T)

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewPool creates a pool of workers (at least one) applying handle to every
// item popped from q.
func NewPool[T any](q *Queue[T], workers int, handle func(T)) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[T]{queue: q, workers: workers, handle: handle}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *Pool[T]) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(p.workers)
		for i := 0; i < p.workers; i++ {
			go p.work()
		}
	})
}

// Wait blocks until every worker has exited, which happens after the queue
// is closed and drained.
func (p *Pool[T]) Wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool[T]) Size() int {
	return p.workers
}

func (p *Pool[T]) work() {
	defer p.wg.Done()
	for {
		item, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.handle(item)
	}
}
