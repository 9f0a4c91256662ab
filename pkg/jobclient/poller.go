package jobclient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"interviewprep/internal/util"
	"interviewprep/pkg/domain"
)

const (
	DefaultPollInterval = 4 * time.Second
	minPollInterval     = 3 * time.Second
	maxPollInterval     = 5 * time.Second
)

// JobStatusSource reports server-side job state. A push-based source can
// replace polling without changing callers.
type JobStatusSource interface {
	ActiveJobs(ctx context.Context) ([]domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
}

// JobCanceller removes queued jobs.
type JobCanceller interface {
	Cancel(ctx context.Context, id string) error
}

// CompletionFunc observes a job that reached completed or failed.
type CompletionFunc func(domain.Job)

// PollerOptions tunes a Poller.
type PollerOptions struct {
	// Interval is clamped to [3s, 5s]; zero means DefaultPollInterval.
	Interval time.Duration
	// Concurrency bounds parallel status fetches per tick.
	Concurrency int
	// Canceller defaults to the source when it implements JobCanceller.
	Canceller JobCanceller
}

// Poller tracks active jobs and fires completion callbacks once per job.
type Poller struct {
	source      JobStatusSource
	canceller   JobCanceller
	interval    time.Duration
	concurrency int

	mu        sync.Mutex
	baseCtx   context.Context
	active    map[string]domain.Job
	callbacks map[string]CompletionFunc
	stopLoop  context.CancelFunc
	done      chan struct{}
}

// NewPoller builds a stopped poller over source.
func NewPoller(source JobStatusSource, opts PollerOptions) *Poller {
	interval := opts.Interval
	switch {
	case interval <= 0:
		interval = DefaultPollInterval
	case interval < minPollInterval:
		interval = minPollInterval
	case interval > maxPollInterval:
		interval = maxPollInterval
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	canceller := opts.Canceller
	if canceller == nil {
		canceller, _ = source.(JobCanceller)
	}
	return &Poller{
		source:      source,
		canceller:   canceller,
		interval:    interval,
		concurrency: concurrency,
		active:      make(map[string]domain.Job),
		callbacks:   make(map[string]CompletionFunc),
	}
}

// Start reconciles the active set with the server and begins polling. Calling
// it again replaces the running loop after the old one has exited, so it must
// not be called from a completion callback. With nothing active the poller
// stays idle until Track adds a job.
func (p *Poller) Start(ctx context.Context) error {
	prev := p.Done()
	p.Stop()
	<-prev
	jobs, err := p.source.ActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("reconcile active jobs: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseCtx = ctx
	for _, job := range jobs {
		if job.Status.Active() {
			p.active[job.ID] = job
		}
	}
	p.startLocked()
	return nil
}

// Track adds a job, typically one just dispatched, and resumes polling if the
// poller was started and had gone idle.
func (p *Poller) Track(job domain.Job) {
	if job.ID == "" || job.Status.Terminal() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[job.ID] = job
	p.startLocked()
}

// OnComplete registers fn under key, replacing any callback with that key.
func (p *Poller) OnComplete(key string, fn CompletionFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks[key] = fn
}

func (p *Poller) RemoveCallback(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.callbacks, key)
}

// Cancel asks the server to drop a queued job and stops tracking it. A job
// already claimed by the worker stays tracked and the API error is returned.
func (p *Poller) Cancel(ctx context.Context, id string) error {
	if p.canceller == nil {
		return errors.New("poller has no canceller")
	}
	err := p.canceller.Cancel(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	p.mu.Lock()
	delete(p.active, id)
	p.mu.Unlock()
	return err
}

// Active returns the tracked jobs, oldest first.
func (p *Poller) Active() []domain.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Job, 0, len(p.active))
	for _, job := range p.active {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Stop halts polling. Tracked jobs are kept for a later Start.
func (p *Poller) Stop() {
	p.mu.Lock()
	stop := p.stopLoop
	p.stopLoop = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Done is closed when the current polling loop exits, either because the
// active set drained or because of Stop. It is already closed when idle.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.done
}

func (p *Poller) startLocked() {
	if p.stopLoop != nil || p.baseCtx == nil || len(p.active) == 0 {
		return
	}
	ctx, cancel := context.WithCancel(p.baseCtx)
	done := make(chan struct{})
	p.stopLoop = cancel
	p.done = done
	go p.run(ctx, cancel, done)
}

func (p *Poller) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer cancel()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !p.tick(ctx, done) {
			return
		}
	}
}

type fetchResult struct {
	job     domain.Job
	missing bool
	err     error
}

// tick refreshes every tracked job and reports whether polling continues.
func (p *Poller) tick(ctx context.Context, done chan struct{}) bool {
	logger := util.LoggerFromContext(ctx)
	ids := p.trackedIDs()

	var (
		resMu   sync.Mutex
		results = make(map[string]fetchResult, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			job, err := p.source.GetJob(gctx, id)
			res := fetchResult{job: job, err: err}
			if errors.Is(err, ErrNotFound) {
				res = fetchResult{missing: true}
			}
			resMu.Lock()
			results[id] = res
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return false
	}

	var finished []domain.Job
	p.mu.Lock()
	for id, res := range results {
		if _, ok := p.active[id]; !ok {
			continue
		}
		switch {
		case res.missing:
			logger.Info("job_disappeared", "job_id", id)
			delete(p.active, id)
		case res.err != nil:
			logger.Warn("job_poll_failed", "job_id", id, "err", res.err)
		case res.job.Status.Terminal():
			delete(p.active, id)
			finished = append(finished, res.job)
		default:
			p.active[id] = res.job
		}
	}
	callbacks := p.sortedCallbacksLocked()
	keepGoing := len(p.active) > 0
	if !keepGoing && p.done == done {
		p.stopLoop = nil
	}
	p.mu.Unlock()

	sort.Slice(finished, func(i, j int) bool { return finished[i].ID < finished[j].ID })
	for _, job := range finished {
		for _, fn := range callbacks {
			fn(job)
		}
	}
	return keepGoing
}

func (p *Poller) trackedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	return ids
}

func (p *Poller) sortedCallbacksLocked() []CompletionFunc {
	keys := make([]string, 0, len(p.callbacks))
	for k := range p.callbacks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]CompletionFunc, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.callbacks[k])
	}
	return out
}
