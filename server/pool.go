package server

import "sync"

// workerPool runs submitted calls on a fixed number of goroutines. Submit
// blocks while every worker is busy, so excess calls queue behind the
// connection that produced them.
type workerPool struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newWorkerPool(size int) *workerPool {
	if size < 1 {
		size = 1
	}
	p := &workerPool{
		tasks: make(chan func()),
		quit:  make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *workerPool) work() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.tasks:
			task()
		case <-p.quit:
			return
		}
	}
}

// Submit hands task to a free worker. It returns false, without running task,
// once the pool has been stopped.
func (p *workerPool) Submit(task func()) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.tasks <- task:
		return true
	case <-p.quit:
		return false
	}
}

// Stop releases the workers after their current task. It does not wait.
func (p *workerPool) Stop() {
	p.once.Do(func() { close(p.quit) })
}

// Wait blocks until every worker has exited.
func (p *workerPool) Wait() {
	p.wg.Wait()
}
