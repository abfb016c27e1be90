package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// source hands out records with increasing ports. failAt lists the sequence numbers at which the
// current feed breaks (the record is not consumed and is delivered by the next feed).
type source struct {
	next    int
	failAt  map[int]bool
	opens   int
	closes  int
	openErr []error
}

type fakeFeed struct {
	src    *source
	closed bool
}

func (f *fakeFeed) Next(ctx context.Context) (record.Record, error) {
	if err := ctx.Err(); err != nil {
		return record.Record{}, err
	}
	if f.closed {
		return record.Record{}, api.ErrFeedClosed
	}

	n := f.src.next
	if f.src.failAt[n] {
		delete(f.src.failAt, n)
		return record.Record{}, errors.New("connection reset by peer")
	}

	f.src.next++
	return record.MustParse(fmt.Sprintf(`{"ip_str":"10.0.0.1","port":%d}`, n)), nil
}

func (f *fakeFeed) Close() error {
	f.closed = true
	f.src.closes++
	return nil
}

func (s *source) open(context.Context) (api.Feed, error) {
	s.opens++
	if len(s.openErr) > 0 {
		err := s.openErr[0]
		s.openErr = s.openErr[1:]
		if err != nil {
			return nil, err
		}
	}
	return &fakeFeed{src: s}, nil
}

type sleeps struct{ calls []time.Duration }

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func collect(ports *[]int) Handler {
	return func(rec record.Record) error {
		*ports = append(*ports, rec.Port())
		return nil
	}
}

func TestConsumer_Limit(t *testing.T) {
	for _, limit := range []int{1, 5, 100} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			src := &source{}
			var got []int

			c := New(src.open, collect(&got), WithLimit(limit))
			res, err := c.Run(context.Background())
			require.NoError(t, err)

			assert.Len(t, got, limit)
			assert.Equal(t, limit, res.Count)
			assert.Equal(t, ReasonLimit, res.Reason)
			assert.Equal(t, Terminated, c.State())
			assert.Equal(t, 1, src.closes)
		})
	}
}

func TestConsumer_ReconnectResumesWithoutDuplicates(t *testing.T) {
	src := &source{failAt: map[int]bool{3: true}}
	sl := &sleeps{}
	var got []int

	c := New(src.open, collect(&got), WithLimit(6), WithSleep(sl.sleep))

	// three records, then the failure
	for range 3 {
		c.Step(context.Background())
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	c.Step(context.Background())
	assert.Equal(t, ReconnectWait, c.State())
	assert.Equal(t, 3, c.Count())

	c.Step(context.Background())
	assert.Equal(t, Consuming, c.State())
	assert.Equal(t, []time.Duration{DefaultBackoff}, sl.calls)

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, got)
	assert.Equal(t, 6, res.Count)
	assert.Equal(t, 1, res.Reconnects)
	assert.Equal(t, 2, src.opens)
}

func TestConsumer_FailedReopenRetries(t *testing.T) {
	src := &source{
		failAt:  map[int]bool{2: true},
		openErr: []error{nil, errors.New("dial tcp: i/o timeout"), nil},
	}
	sl := &sleeps{}
	var got []int

	res, err := New(src.open, collect(&got), WithLimit(4), WithSleep(sl.sleep)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, got)
	assert.Equal(t, 3, src.opens)
	assert.Len(t, sl.calls, 2)
	assert.Equal(t, 2, res.Reconnects)
}

func TestConsumer_TerminatedCheckStops(t *testing.T) {
	src := &source{failAt: map[int]bool{2: true}}
	var checked error
	var got []int

	c := New(src.open, collect(&got), WithTerminated(func(_ context.Context, err error) bool {
		checked = err
		return true
	}))

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, got)
	assert.Equal(t, ReasonJobTerminated, res.Reason)
	assert.EqualError(t, checked, "connection reset by peer")
	assert.Equal(t, 1, src.opens)
}

func TestConsumer_TerminatedCheckFalseReconnects(t *testing.T) {
	src := &source{failAt: map[int]bool{1: true}}
	sl := &sleeps{}
	calls := 0
	var got []int

	res, err := New(src.open, collect(&got),
		WithLimit(3),
		WithSleep(sl.sleep),
		WithBackoff(time.Millisecond),
		WithTerminated(func(context.Context, error) bool { calls++; return false }),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2}, got)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []time.Duration{time.Millisecond}, sl.calls)
	assert.Equal(t, ReasonLimit, res.Reason)
}

func TestConsumer_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &source{}
	var got []int

	c := New(src.open, func(rec record.Record) error {
		got = append(got, rec.Port())
		if len(got) == 3 {
			cancel()
		}
		return nil
	}, WithTerminated(func(context.Context, error) bool {
		t.Fatal("termination check must not run on interruption")
		return false
	}))

	res, err := c.Run(ctx)
	require.NoError(t, err)

	assert.Len(t, got, 3)
	assert.Equal(t, ReasonInterrupted, res.Reason)
	assert.Zero(t, res.Reconnects)
	assert.Equal(t, 1, src.closes)
}

func TestConsumer_InterruptedDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &source{failAt: map[int]bool{0: true}}

	c := New(src.open, func(record.Record) error { return nil }, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return Sleep(ctx, d)
	}))

	res, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReasonInterrupted, res.Reason)
	assert.Equal(t, 1, src.opens)
}

func TestConsumer_PermanentErrorIsFatal(t *testing.T) {
	denied := &api.Error{Status: 401, Message: "Invalid API key"}
	src := &source{openErr: []error{denied}}

	res, err := New(src.open, func(record.Record) error { return nil }).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, ReasonFatal, res.Reason)
}

func TestConsumer_HandlerError(t *testing.T) {
	src := &source{}
	boom := errors.New("disk full")

	res, err := New(src.open, func(rec record.Record) error {
		if rec.Port() == 1 {
			return boom
		}
		return nil
	}).Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ReasonFatal, res.Reason)
	assert.Equal(t, 2, res.Count)
}

func TestConsumer_HandlerStop(t *testing.T) {
	src := &source{}

	res, err := New(src.open, func(rec record.Record) error {
		if rec.Port() == 4 {
			return ErrStop
		}
		return nil
	}).Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, ReasonJobTerminated, res.Reason)
	assert.Equal(t, 5, res.Count)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONSUMING", Consuming.String())
	assert.Equal(t, "RECONNECT_WAIT", ReconnectWait.String())
	assert.Equal(t, "TERMINATED", Terminated.String())
	assert.Equal(t, "State(9)", State(9).String())
}
