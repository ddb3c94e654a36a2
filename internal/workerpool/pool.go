// Package workerpool implements the Worker Pool of spec.md §4.8: a
// bounded set of workers draining an unbounded FIFO of
// (user, connection, Runnable) triples. Grounded on
// pkg/workerpool/pool.go's Config/DefaultConfig/Start/Submit/Close
// shape, generalized from context-cancelable Task funcs to the
// fire-and-forget pondb.Runnable contract spec.md names.
package workerpool

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/pondb"
)

var (
	ErrPoolClosed  = errors.New("workerpool: pool is closed")
	ErrPoolRunning = errors.New("workerpool: pool is already running")
	ErrInvalidSize = errors.New("workerpool: invalid pool size")
)

// Config tunes the pool's worker count.
type Config struct {
	Size int
}

func DefaultConfig() Config {
	return Config{Size: 4}
}

// job bundles one dispatch unit: the user/connection identity spec.md's
// Worker Pool threads through for logging/accounting, plus the work.
type job struct {
	user string
	conn string
	run  pondb.Runnable
}

// Pool is the bounded worker pool. Execute never blocks the caller on
// worker availability — the queue is an unbounded slice guarded by mu,
// matching spec.md's "unbounded FIFO" requirement while keeping only
// Size goroutines executing at once. workCond wakes parked workers on
// both new work and shutdown; quietCond wakes WaitUntilAllWorkersQuiet.
type Pool struct {
	config Config
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	closed  bool

	queue []job

	wg        sync.WaitGroup
	workCond  *sync.Cond
	quietCond *sync.Cond
	active    int32

	executing atomic.Bool
}

// New builds a Pool in the given configuration without starting it.
func New(config Config, log zerolog.Logger) (*Pool, error) {
	if config.Size <= 0 {
		return nil, ErrInvalidSize
	}
	p := &Pool{config: config, log: log}
	p.workCond = sync.NewCond(&p.mu)
	p.quietCond = sync.NewCond(&p.mu)
	p.executing.Store(true)
	return p, nil
}

// Start launches Size worker goroutines.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.running {
		return ErrPoolRunning
	}
	p.running = true

	for i := 0; i < p.config.Size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return nil
}

// Execute enqueues a (user, connection, Runnable) triple for execution
// by the next available worker, per spec.md §4.8.
func (p *Pool) Execute(user, connection string, run pondb.Runnable) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, job{user: user, conn: connection, run: run})
	p.workCond.Signal()
	p.mu.Unlock()
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		j, ok := p.next()
		if !ok {
			return
		}
		p.runJob(j)
	}
}

// next blocks until a job is available to dequeue, the pool is closed
// and drained, or dispatch is gated off by SetIsExecutingCommands(false)
// — in which case it parks without dequeuing even if the queue is
// non-empty, tracking the "quiet" condition WaitUntilAllWorkersQuiet
// polls.
func (p *Pool) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 || !p.executing.Load() {
		if p.closed {
			return job{}, false
		}
		p.quietCond.Broadcast()
		p.workCond.Wait()
	}
	j := p.queue[0]
	p.queue = p.queue[1:]
	p.active++
	return j, true
}

func (p *Pool) runJob(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("user", j.user).Msg("workerpool: task panicked")
		}
		p.mu.Lock()
		p.active--
		p.quietCond.Broadcast()
		p.mu.Unlock()
	}()
	j.run.Run()
}

// SetIsExecutingCommands gates dispatch: true (the default) lets
// workers drain the queue normally; false stops new jobs from being
// dequeued — already-running jobs finish, queued jobs are retained
// untouched — until it is set back to true, per spec.md §4.8/§9.
func (p *Pool) SetIsExecutingCommands(v bool) {
	p.executing.Store(v)
	if v {
		p.mu.Lock()
		p.workCond.Broadcast()
		p.mu.Unlock()
	}
}

func (p *Pool) IsExecutingCommands() bool {
	return p.executing.Load()
}

// WaitUntilAllWorkersQuiet blocks until no worker is mid-job and, if
// dispatch is still gated on, the queue is fully drained. While
// SetIsExecutingCommands(false) holds, retained queued jobs are not
// waited on — they will never be picked up until dispatch resumes, so
// "quiet" means every already-dispatched job has finished.
func (p *Pool) WaitUntilAllWorkersQuiet() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.active > 0 || (p.executing.Load() && len(p.queue) > 0) {
		p.quietCond.Wait()
	}
}

// Shutdown stops accepting new work and blocks until every queued and
// in-flight job has completed.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.workCond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

// NotifyWorkerReady is exposed for callers (e.g. tests) that want to
// nudge every parked worker without submitting a job, matching
// spec.md's named operation.
func (p *Pool) NotifyWorkerReady() {
	p.mu.Lock()
	p.workCond.Broadcast()
	p.mu.Unlock()
}
