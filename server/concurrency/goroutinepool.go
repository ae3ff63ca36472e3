/******************************************************************************
 *
 *  Description :
 *    A very basic and naive implementation of thread pool.
 *
 *****************************************************************************/
package concurrency

// Task represents a work task to be run on the specified thread pool.
type Task func()

// GoRoutinePool runs tasks on a bounded number of goroutines.
type GoRoutinePool struct {
	// Work queue.
	work chan Task
	// Counter to control the number of already allocated/running goroutines.
	sem chan struct{}
	// Exit knob.
	stop chan struct{}
}

// NewGoRoutinePool allocates a new thread pool with `numWorkers` goroutines.
func NewGoRoutinePool(numWorkers int) *GoRoutinePool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	return &GoRoutinePool{
		work: make(chan Task),
		sem:  make(chan struct{}, numWorkers),
		stop: make(chan struct{}),
	}
}

// Schedule enqueues a closure to run on the GoRoutinePool's goroutines.
// Blocks while all workers are busy. Returns false if the pool is stopped.
func (p *GoRoutinePool) Schedule(task Task) bool {
	select {
	case <-p.stop:
		return false
	default:
	}

	select {
	case p.work <- task:
	case p.sem <- struct{}{}:
		go p.worker(task)
	case <-p.stop:
		return false
	}
	return true
}

// Stop signals all running goroutines to exit once their current task is done.
func (p *GoRoutinePool) Stop() {
	close(p.stop)
}

// Thread pool worker goroutine.
func (p *GoRoutinePool) worker(task Task) {
	defer func() { <-p.sem }()
	for {
		task()
		select {
		case task = <-p.work:
		case <-p.stop:
			return
		}
	}
}
