// Package scan runs scan jobs end to end: it submits the job, consumes the matching live feed
// through a stream.Consumer, polls the job status until it is done, and cleans up afterwards.
package scan

import (
	"context"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/stream"
	log "github.com/sirupsen/logrus"
)

// Orchestrator holds the client and the timing knobs shared by both scan variants.
type Orchestrator struct {
	client       api.Client
	pollEvery    int
	pollInterval time.Duration
	backoff      time.Duration
	feedTimeout  time.Duration
	sleep        stream.SleepFunc
	now          func() time.Time
	statusCb     StatusCallback
}

type Option func(*Orchestrator)

// WithPollEvery sets the number of records between status polls of an internet scan.
func WithPollEvery(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pollEvery = n
		}
	}
}

// WithPollInterval sets the wall-clock interval between status polls of a submitted scan.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollInterval = d }
}

// WithBackoff sets the pause before a broken feed is reopened.
func WithBackoff(d time.Duration) Option {
	return func(o *Orchestrator) { o.backoff = d }
}

// WithFeedTimeout sets the idle timeout requested for the internet scan feed.
func WithFeedTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.feedTimeout = d }
}

func WithSleep(fn stream.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithStatusCallback sets a function receiving progress messages (i.e., a spinner).
func WithStatusCallback(callback StatusCallback) Option {
	return func(o *Orchestrator) { o.statusCb = callback }
}

func New(client api.Client, options ...Option) *Orchestrator {
	o := &Orchestrator{
		client:       client,
		pollEvery:    DefaultPollEvery,
		pollInterval: DefaultPollInterval,
		backoff:      stream.DefaultBackoff,
		feedTimeout:  DefaultFeedTimeout,
		sleep:        stream.Sleep,
		now:          time.Now,
	}

	for _, option := range options {
		option(o)
	}

	return o
}

func (o *Orchestrator) sendStatus(message string) {
	if o.statusCb != nil {
		o.statusCb(message)
	}
}

func (o *Orchestrator) consumerOptions(name string, p *poller) []stream.Option {
	return []stream.Option{
		stream.WithName(name),
		stream.WithBackoff(o.backoff),
		stream.WithSleep(o.sleep),
		stream.WithTerminated(func(ctx context.Context, _ error) bool { return p.poll(ctx) }),
	}
}

func logForJob(id string) *log.Entry {
	return log.WithField("scan", id)
}

// poller tracks the remote status of one job. Once DONE is seen it never polls again.
type poller struct {
	client api.Client
	id     string
	done   bool
	polls  int
}

func (p *poller) poll(ctx context.Context) bool {
	if p.done {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	p.polls++
	job, err := p.client.ScanStatus(ctx, p.id)
	if err != nil {
		logForJob(p.id).WithError(err).Warn("status poll failed")
		return false
	}

	logForJob(p.id).Debugf("status: %s", job.GetStatus())
	p.done = job.GetStatus().IsDone()

	return p.done
}

// phaseFor maps a consumer outcome to the scan phase it ends in. timedOut reports whether the wait
// window (not the caller) ended consumption.
func phaseFor(reason stream.Reason, timedOut bool) Phase {
	switch {
	case reason == stream.ReasonJobTerminated:
		return Done
	case timedOut:
		return TimedOut
	}
	return Interrupted
}
