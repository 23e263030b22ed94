package core

// commit_limiter.go admits commits into the pipeline.
//
// A commit first queues for one of a fixed number of slots. If no slot frees
// up within the wait budget it fails with ErrTooManyCommits. Once admitted it
// runs under its own deadline, and the slot is returned when the commit's
// done func runs. Shutdown waits on WaitForDrain for admitted commits to
// finish.

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

// ErrTooManyCommits is returned when no commit slot frees up in time.
var ErrTooManyCommits = errors.New("too many concurrent commits, please try again later")

const (
	DefaultMaxConcurrentCommits = 5
	DefaultMaxWaitTime          = 30 * time.Second
)

var (
	commitsInFlightDesc = prometheus.NewDesc(
		"ghgledger_import_commits_in_flight",
		"Commits currently holding a limiter slot.",
		nil, nil,
	)
	commitSlotsDesc = prometheus.NewDesc(
		"ghgledger_import_commit_slots",
		"Configured number of concurrent commit slots.",
		nil, nil,
	)
	commitsRejectedDesc = prometheus.NewDesc(
		"ghgledger_import_commits_rejected_total",
		"Commits turned away because no slot freed up in time.",
		nil, nil,
	)
)

// CommitLimiter bounds concurrent commits and the time each one may run.
// It is also a prometheus.Collector for its own state.
type CommitLimiter struct {
	sem     *semaphore.Weighted
	size    int
	maxWait time.Duration
	timeout time.Duration

	mu       sync.Mutex
	active   int
	rejected int
	idle     chan struct{} // closed while active == 0
}

// NewCommitLimiter creates a limiter with maxConcurrent slots. Callers queue
// for at most maxWait; admitted commits are cancelled after timeout. Zero
// values select the defaults.
func NewCommitLimiter(maxConcurrent int, maxWait, timeout time.Duration) *CommitLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentCommits
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	if timeout <= 0 {
		timeout = DefaultCommitTimeout
	}
	idle := make(chan struct{})
	close(idle)
	return &CommitLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		size:    maxConcurrent,
		maxWait: maxWait,
		timeout: timeout,
		idle:    idle,
	}
}

// Begin waits for a slot and returns a context carrying the commit deadline.
// done releases the slot and cancels that context; it must be called once the
// commit has finished, and extra calls are no-ops.
func (l *CommitLimiter) Begin(ctx context.Context) (context.Context, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, l.maxWait)
	err := l.sem.Acquire(waitCtx, 1)
	cancelWait()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		l.mu.Lock()
		l.rejected++
		l.mu.Unlock()
		return nil, nil, ErrTooManyCommits
	}

	l.mu.Lock()
	if l.active == 0 {
		l.idle = make(chan struct{})
	}
	l.active++
	l.mu.Unlock()

	commitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	var once sync.Once
	done := func() {
		once.Do(func() {
			cancel()
			l.mu.Lock()
			l.active--
			if l.active == 0 {
				close(l.idle)
			}
			l.mu.Unlock()
			l.sem.Release(1)
		})
	}
	return commitCtx, done, nil
}

// WaitForDrain blocks until no commit holds a slot or ctx is done.
func (l *CommitLimiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CommitLimiterStatus is the limiter state reported by the health endpoint.
type CommitLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
	Rejected      int `json:"rejected"`
}

// Status returns a snapshot of the limiter.
func (l *CommitLimiter) Status() CommitLimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CommitLimiterStatus{
		Active:        l.active,
		Available:     l.size - l.active,
		MaxConcurrent: l.size,
		Rejected:      l.rejected,
	}
}

// Describe implements prometheus.Collector.
func (l *CommitLimiter) Describe(ch chan<- *prometheus.Desc) {
	ch <- commitsInFlightDesc
	ch <- commitSlotsDesc
	ch <- commitsRejectedDesc
}

// Collect implements prometheus.Collector.
func (l *CommitLimiter) Collect(ch chan<- prometheus.Metric) {
	st := l.Status()
	ch <- prometheus.MustNewConstMetric(commitsInFlightDesc, prometheus.GaugeValue, float64(st.Active))
	ch <- prometheus.MustNewConstMetric(commitSlotsDesc, prometheus.GaugeValue, float64(st.MaxConcurrent))
	ch <- prometheus.MustNewConstMetric(commitsRejectedDesc, prometheus.CounterValue, float64(st.Rejected))
}
