// Package preload warms remote images ahead of display. Each URL is fetched
// at most once per scheduler, in batches, with newly requested URLs jumping
// ahead of older backlog.
package preload

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-derivative-pipeline/internal/fetch"
	"github.com/tendant/simple-derivative-pipeline/internal/metrics"
)

// Scheduler defaults
const (
	DefaultPriorityCount = 16
	DefaultBatchSize     = 8
)

// Fetcher retrieves one URL. *fetch.Client satisfies it.
type Fetcher interface {
	Get(ctx context.Context, url string) (*fetch.Response, error)
}

// Sink receives every successfully fetched body
type Sink func(url string, resp *fetch.Response)

// Config controls a Scheduler
type Config struct {
	PriorityCount int
	BatchSize     int
	Sink          Sink
	Logger        *slog.Logger
}

// Stats is a snapshot of scheduler counters
type Stats struct {
	Seen     int
	Queued   int
	InFlight int
	Loaded   int
	Failed   int
}

// Scheduler owns the session's seen set, queues and results
type Scheduler struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger

	// held for reading around Sink calls so Close can wait them out
	sinkMu sync.RWMutex

	mu       sync.Mutex
	idle     *sync.Cond
	seen     map[string]struct{}
	priority []string
	backlog  []string
	draining bool
	closed   bool
	inFlight int
	loaded   map[string]struct{}
	failed   map[string]error
}

// New creates a scheduler. Close releases it.
func New(fetcher Fetcher, cfg Config) *Scheduler {
	if cfg.PriorityCount < 0 {
		cfg.PriorityCount = 0
	} else if cfg.PriorityCount == 0 {
		cfg.PriorityCount = DefaultPriorityCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
		seen:    make(map[string]struct{}),
		loaded:  make(map[string]struct{}),
		failed:  make(map[string]error),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Enqueue adds URLs not seen before and returns how many were new. The first
// PriorityCount new URLs of each call go ahead of any older backlog.
func (s *Scheduler) Enqueue(urls ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}

	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := s.seen[u]; ok {
			continue
		}
		s.seen[u] = struct{}{}
		if added < s.cfg.PriorityCount {
			s.priority = append(s.priority, u)
		} else {
			s.backlog = append(s.backlog, u)
		}
		added++
	}
	s.updateQueued()

	// One drain loop at a time
	if added > 0 && !s.draining {
		s.draining = true
		go s.drain()
	}
	return added
}

// next pops up to one batch, priority first. Callers hold mu.
func (s *Scheduler) next() []string {
	n := s.cfg.BatchSize
	batch := make([]string, 0, n)
	take := func(q []string) []string {
		k := n - len(batch)
		if k > len(q) {
			k = len(q)
		}
		batch = append(batch, q[:k]...)
		return q[k:]
	}
	s.priority = take(s.priority)
	s.backlog = take(s.backlog)
	s.updateQueued()
	return batch
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if s.closed || (len(s.priority) == 0 && len(s.backlog) == 0) {
			s.draining = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		batch := s.next()
		s.inFlight = len(batch)
		metrics.PreloadInFlight.Set(float64(s.inFlight))
		s.mu.Unlock()

		// The next batch starts only after this one settles. Close never
		// cancels a started chain; its result is dropped instead.
		var g errgroup.Group
		for _, u := range batch {
			g.Go(func() error {
				s.fetchOne(context.Background(), u)
				return nil
			})
		}
		g.Wait()

		s.mu.Lock()
		s.inFlight = 0
		metrics.PreloadInFlight.Set(0)
		s.mu.Unlock()
	}
}

func (s *Scheduler) fetchOne(ctx context.Context, u string) {
	resp, err := s.fetcher.Get(ctx, u)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.PreloadResultsTotal.WithLabelValues("discarded").Inc()
		return
	}
	if err != nil {
		s.failed[u] = err
	} else {
		s.loaded[u] = struct{}{}
	}
	s.mu.Unlock()

	if err != nil {
		metrics.PreloadResultsTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("preload failed", "url", u, "error", err)
		return
	}
	metrics.PreloadResultsTotal.WithLabelValues("loaded").Inc()
	s.logger.Debug("preloaded", "url", u, "strategy", resp.Strategy, "bytes", len(resp.Body))
	if s.cfg.Sink == nil {
		return
	}
	s.sinkMu.RLock()
	defer s.sinkMu.RUnlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		s.cfg.Sink(u, resp)
	}
}

// Wait blocks until both queues are empty and no batch is in flight, or the
// scheduler is closed
func (s *Scheduler) Wait() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.draining && !s.closed {
		s.idle.Wait()
	}
}

// Close stops scheduling and discards the results of fetches still in
// flight. Those fetches run to completion in the background. Once Close
// returns the Sink is not called again, so a Sink must not call Close. It is
// safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.priority = nil
	s.backlog = nil
	s.updateQueued()
	s.idle.Broadcast()
	s.mu.Unlock()

	// Wait out a Sink that passed the closed check before we set it
	s.sinkMu.Lock()
	s.sinkMu.Unlock()
}

// Loaded reports whether url was fetched successfully
func (s *Scheduler) Loaded(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loaded[url]
	return ok
}

// Failed returns the error for a failed url, or nil
func (s *Scheduler) Failed(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed[url]
}

// Stats returns current counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Seen:     len(s.seen),
		Queued:   len(s.priority) + len(s.backlog),
		InFlight: s.inFlight,
		Loaded:   len(s.loaded),
		Failed:   len(s.failed),
	}
}

func (s *Scheduler) updateQueued() {
	metrics.PreloadQueued.Set(float64(len(s.priority) + len(s.backlog)))
}
