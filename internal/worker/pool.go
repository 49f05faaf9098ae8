package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPollInterval = time.Second

// Request asks a pool to drive one job. FileIndices is only meaningful for
// the download pool; nil selects every file.
type Request struct {
	JobID       string
	FileIndices []int
}

// RunFunc executes a single claimed request. It must persist a consistent
// job state before returning, including on cancellation.
type RunFunc func(ctx context.Context, req Request)

// Submitter is the capability the download executor needs to hand a finished
// job to the upload pool.
type Submitter interface {
	Submit(req Request)
}

// Pool accepts job requests and executes at most maxConcurrent of them at a
// time. Admission is polling-based: the scheduling loop wakes every
// pollInterval, claims capacity, and prunes finished executions. The pending
// queue is unbounded; callers are rate-limited at the API boundary.
type Pool struct {
	name          string
	maxConcurrent int
	pollInterval  time.Duration
	run           RunFunc
	logger        *logrus.Logger

	mu      sync.Mutex
	pending []Request
	active  map[string]struct{}

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func NewPool(name string, maxConcurrent int, run RunFunc, logger *logrus.Logger) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pool{
		name:          name,
		maxConcurrent: maxConcurrent,
		pollInterval:  defaultPollInterval,
		run:           run,
		logger:        logger,
		active:        make(map[string]struct{}),
	}
}

// Submit enqueues a request. It never blocks.
func (p *Pool) Submit(req Request) {
	p.mu.Lock()
	p.pending = append(p.pending, req)
	depth := len(p.pending)
	p.mu.Unlock()
	p.logger.WithField("job_id", req.JobID).Debugf("%s pool: request queued (depth %d)", p.name, depth)
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop()
	p.logger.Infof("%s pool started (max concurrent %d)", p.name, p.maxConcurrent)
}

// Stop cancels every active execution and waits for each to take its
// cancellation branch, bounded by ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Infof("%s pool stopped", p.name)
		return nil
	case <-ctx.Done():
		p.logger.Warnf("%s pool: drain timed out", p.name)
		return ctx.Err()
	}
}

// ActiveCount returns the number of currently executing jobs.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// QueueDepth returns the number of requests waiting for capacity.
func (p *Pool) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Pool) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.admit()
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// admit claims queued requests until the pool is at capacity or the queue is
// empty. The active map is only ever written here and by execution exits.
func (p *Pool) admit() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 || len(p.active) >= p.maxConcurrent {
			p.mu.Unlock()
			return
		}
		req := p.pending[0]
		p.pending = p.pending[1:]
		if _, busy := p.active[req.JobID]; busy {
			p.mu.Unlock()
			p.logger.WithField("job_id", req.JobID).Warnf("%s pool: job already active, dropping duplicate request", p.name)
			continue
		}
		p.active[req.JobID] = struct{}{}
		p.mu.Unlock()

		p.wg.Add(1)
		go p.execute(req)
	}
}

// execute runs one claimed request as a fault isolation unit: a panic in one
// job cannot take down the scheduling loop or other executions.
func (p *Pool) execute(req Request) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.active, req.JobID)
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("job_id", req.JobID).Errorf("%s pool: execution panic: %v", p.name, r)
		}
	}()

	p.run(p.ctx, req)
}
