package guardian

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// job is one periodic task.
type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// scheduler runs jobs on independent tickers. Runs never overlap: one mutex
// serializes every job. Stop prevents new runs; a run already in progress
// completes.
type scheduler struct {
	logger *zap.Logger
	jobs   []job

	// runMu serializes job runs across tickers.
	runMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newScheduler(logger *zap.Logger) *scheduler {
	return &scheduler{logger: logger}
}

// add registers a job. Jobs with a non-positive interval are ignored.
func (s *scheduler) add(name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// Start launches one loop per job.
func (s *scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop cancels every loop and waits for in-flight runs to finish.
func (s *scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

// runOnce runs j unless the scheduler was stopped while waiting for the
// run mutex. The run itself is detached from cancellation.
func (s *scheduler) runOnce(ctx context.Context, j job) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := j.run(context.WithoutCancel(ctx))
	if err != nil {
		scheduledRunsTotal.WithLabelValues(j.name, "error").Inc()
		s.logger.Error("scheduled run failed", zap.String("job", j.name), zap.Error(err))
		return
	}
	scheduledRunsTotal.WithLabelValues(j.name, "ok").Inc()
	s.logger.Debug("scheduled run complete", zap.String("job", j.name), zap.Duration("took", time.Since(start)))
}
