// Package dispatcher runs blocking settlement calls away from the control loop and hands
// their outcome back on a single completion channel.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindFunding Kind = "funding"
	KindPayout  Kind = "payout"
)

// Outcome is the pure result of a job. Jobs never touch the order store.
type Outcome struct {
	OK           bool
	SettlementID string
	Attempts     int
	Err          error
}

type Job struct {
	Kind     Kind
	OrderIDs []string
	// Ref correlates the job with its caller's record, e.g. a withdrawal id.
	Ref string
	Run func(ctx context.Context) Outcome
}

type Result struct {
	JobID      string
	Kind       Kind
	OrderIDs   []string
	Ref        string
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

type Dispatcher struct {
	log     *logrus.Entry
	results chan Result
	wg      sync.WaitGroup
	pending atomic.Int64

	mu   sync.Mutex
	held []Result // finished after the consumer stopped

	// observe is called with every finished result before delivery.
	observe func(Result)
}

// New creates a dispatcher whose completion channel buffers up to buffer results.
func New(buffer int, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if buffer < 0 {
		buffer = 0
	}
	return &Dispatcher{
		log:     log.WithField("component", "dispatcher"),
		results: make(chan Result, buffer),
	}
}

// Observe registers a hook called for every finished job.
func (d *Dispatcher) Observe(fn func(Result)) {
	d.observe = fn
}

// Results is the completion channel. It must be read by a single consumer.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Pending is the number of jobs not yet delivered.
func (d *Dispatcher) Pending() int {
	return int(d.pending.Load())
}

// Dispatch starts job on its own goroutine and returns its id. The job runs to completion even
// if ctx is cancelled; a result that cannot be delivered once ctx ends is held for Undelivered.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) string {
	id := uuid.NewString()
	d.pending.Add(1)
	d.wg.Add(1)

	log := d.log.WithFields(logrus.Fields{
		"job_id":    id,
		"kind":      job.Kind,
		"order_ids": job.OrderIDs,
		"ref":       job.Ref,
	})
	log.Debug("job dispatched")

	go func() {
		defer d.wg.Done()
		defer d.pending.Add(-1)

		res := Result{
			JobID:     id,
			Kind:      job.Kind,
			OrderIDs:  job.OrderIDs,
			Ref:       job.Ref,
			StartedAt: time.Now(),
		}
		res.Outcome = run(context.WithoutCancel(ctx), job)
		res.FinishedAt = time.Now()

		entry := log.WithFields(logrus.Fields{
			"ok":       res.Outcome.OK,
			"attempts": res.Outcome.Attempts,
			"elapsed":  res.FinishedAt.Sub(res.StartedAt).String(),
		})
		if res.Outcome.Err != nil {
			entry = entry.WithError(res.Outcome.Err)
		}
		entry.Info("job finished")

		if d.observe != nil {
			d.observe(res)
		}

		select {
		case d.results <- res:
		case <-ctx.Done():
			d.mu.Lock()
			d.held = append(d.held, res)
			d.mu.Unlock()
			log.Warn("consumer stopped, result held")
		}
	}()

	return id
}

func run(ctx context.Context, job Job) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{OK: false, Err: fmt.Errorf("job panicked: %v", r)}
		}
	}()
	if job.Run == nil {
		return Outcome{Err: fmt.Errorf("job %s has no run function", job.Kind)}
	}
	return job.Run(ctx)
}

// Wait blocks until every dispatched job has finished and its result was delivered or held.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Undelivered empties the completion channel and the held results. Call it after Wait, once the
// consumer of Results has stopped.
func (d *Dispatcher) Undelivered() []Result {
	var out []Result
	for {
		select {
		case res := <-d.results:
			out = append(out, res)
		default:
			d.mu.Lock()
			out = append(out, d.held...)
			d.held = nil
			d.mu.Unlock()
			return out
		}
	}
}
