// Package stream consumes live record feeds. A Consumer owns one subscription: it forwards records
// in feed order, stops at a record limit, and reopens the feed after transport failures until the
// caller's termination check says the job is over or the context is cancelled.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	log "github.com/sirupsen/logrus"
)

// DefaultBackoff is the pause between a feed failure and the next reopen attempt.
const DefaultBackoff = 2 * time.Second

// ErrStop may be returned by a Handler to end consumption without an error. The consumer reports
// ReasonJobTerminated.
var ErrStop = errors.New("stop consuming")

type State int

const (
	Consuming State = iota
	ReconnectWait
	Terminated
)

func (s State) String() string {
	switch s {
	case Consuming:
		return "CONSUMING"
	case ReconnectWait:
		return "RECONNECT_WAIT"
	case Terminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reason tells why a consumer terminated.
type Reason string

const (
	ReasonLimit         Reason = "limit"
	ReasonInterrupted   Reason = "interrupted"
	ReasonJobTerminated Reason = "job-terminated"
	ReasonFatal         Reason = "fatal"
)

// Opener (re)opens the feed. It is called once at start and after every reconnect wait.
type Opener func(ctx context.Context) (api.Feed, error)

// Handler receives every forwarded record. Any error other than ErrStop is fatal.
type Handler func(rec record.Record) error

// TerminatedFunc is consulted after a feed failure; returning true ends consumption instead of
// reconnecting. err is the failure that triggered the check.
type TerminatedFunc func(ctx context.Context, err error) bool

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Result summarizes a finished run.
type Result struct {
	Count      int
	Reason     Reason
	Reconnects int
}

type Consumer struct {
	open       Opener
	handle     Handler
	terminated TerminatedFunc
	sleep      SleepFunc
	limit      int
	backoff    time.Duration
	name       string

	state      State
	feed       api.Feed
	count      int
	reconnects int
	reason     Reason
	err        error
}

type Option func(*Consumer)

// WithLimit stops consumption after n records. n <= 0 means no limit.
func WithLimit(n int) Option {
	return func(c *Consumer) { c.limit = n }
}

func WithBackoff(d time.Duration) Option {
	return func(c *Consumer) { c.backoff = d }
}

// WithTerminated sets the check run after feed failures. Without one the consumer always
// reconnects.
func WithTerminated(fn TerminatedFunc) Option {
	return func(c *Consumer) { c.terminated = fn }
}

func WithSleep(fn SleepFunc) Option {
	return func(c *Consumer) { c.sleep = fn }
}

// WithName labels log lines, e.g. with the feed or job being consumed.
func WithName(name string) Option {
	return func(c *Consumer) { c.name = name }
}

func New(open Opener, handle Handler, options ...Option) *Consumer {
	c := &Consumer{
		open:    open,
		handle:  handle,
		sleep:   Sleep,
		backoff: DefaultBackoff,
		name:    "feed",
		state:   Consuming,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

func (c *Consumer) State() State { return c.state }

func (c *Consumer) Count() int { return c.count }

func (c *Consumer) Result() Result {
	return Result{Count: c.count, Reason: c.reason, Reconnects: c.reconnects}
}

func (c *Consumer) logger() *log.Entry {
	return log.WithFields(log.Fields{"feed": c.name, "count": c.count})
}

// Run drives Step until the consumer terminates. The returned error is non-nil only when the
// reason is ReasonFatal.
func (c *Consumer) Run(ctx context.Context) (Result, error) {
	defer c.closeFeed()

	for c.state != Terminated {
		c.Step(ctx)
	}

	return c.Result(), c.err
}

// Step performs one transition: open the feed, deliver one record, or wait out the backoff.
func (c *Consumer) Step(ctx context.Context) {
	switch c.state {
	case Consuming:
		if ctx.Err() != nil {
			c.terminate(ReasonInterrupted, nil)
			return
		}

		if c.feed == nil {
			feed, err := c.open(ctx)
			if err != nil {
				c.fail(ctx, fmt.Errorf("open %s: %w", c.name, err))
				return
			}
			c.feed = feed
			c.logger().Debug("feed opened")
		}

		rec, err := c.feed.Next(ctx)
		if err != nil {
			c.fail(ctx, err)
			return
		}

		c.deliver(rec)

	case ReconnectWait:
		if err := c.sleep(ctx, c.backoff); err != nil {
			c.terminate(ReasonInterrupted, nil)
			return
		}
		c.reconnects++
		c.state = Consuming

	case Terminated:
	}
}

func (c *Consumer) deliver(rec record.Record) {
	if c.limit > 0 && c.count+1 > c.limit {
		c.terminate(ReasonLimit, nil)
		return
	}

	c.count++
	if err := c.handle(rec); err != nil {
		if errors.Is(err, ErrStop) {
			c.terminate(ReasonJobTerminated, nil)
			return
		}
		c.terminate(ReasonFatal, err)
		return
	}

	if c.limit > 0 && c.count >= c.limit {
		c.terminate(ReasonLimit, nil)
	}
}

// fail handles an open or read failure.
func (c *Consumer) fail(ctx context.Context, err error) {
	c.closeFeed()

	if ctx.Err() != nil {
		c.terminate(ReasonInterrupted, nil)
		return
	}

	if api.IsPermanent(err) {
		c.terminate(ReasonFatal, err)
		return
	}

	if c.terminated != nil && c.terminated(ctx, err) {
		c.logger().WithError(err).Debug("feed ended after job terminated")
		c.terminate(ReasonJobTerminated, nil)
		return
	}

	c.logger().WithError(err).Warnf("feed error, reconnecting in %s", c.backoff)
	c.state = ReconnectWait
}

func (c *Consumer) terminate(reason Reason, err error) {
	c.closeFeed()
	c.state = Terminated
	c.reason = reason
	c.err = err
	c.logger().Debugf("terminated: %s", reason)
}

func (c *Consumer) closeFeed() {
	if c.feed == nil {
		return
	}
	if err := c.feed.Close(); err != nil {
		c.logger().WithError(err).Debug("closing feed")
	}
	c.feed = nil
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
