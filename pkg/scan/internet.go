package scan

import (
	"context"
	"fmt"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/sink"
	"github.com/censys-research/shodan-ng/pkg/stream"
)

// InternetFilename is the output file of an internet scan, before the .json.gz extension.
func InternetFilename(port int, protocol string) string {
	return fmt.Sprintf("%d-%s", port, protocol)
}

// Internet asks the service to scan the whole internet for port/protocol, then stores every banner
// of the port feed in out until a status poll reports the job DONE. The status is polled every
// pollEvery records and whenever the feed breaks.
//
// Internet owns out and closes it before returning. onRecord may be nil.
func (o *Orchestrator) Internet(ctx context.Context, port int, protocol string, out sink.Writer, onRecord RecordCallback) (*InternetResult, error) {
	closed := false
	defer func() {
		if !closed {
			out.Close()
		}
	}()

	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", port)
	}
	if strings.TrimSpace(protocol) == "" {
		return nil, fmt.Errorf("empty protocol")
	}

	job, err := o.client.ScanInternet(ctx, port, protocol)
	if err != nil {
		return nil, fmt.Errorf("submit internet scan %d/%s: %w", port, protocol, err)
	}

	res := &InternetResult{Job: job, Phases: Phases{Submitted}}
	o.sendStatus(fmt.Sprintf("scan %s submitted for %d/%s", job.GetID(), port, protocol))
	logForJob(job.GetID()).Infof("internet scan submitted for %d/%s", port, protocol)

	p := &poller{client: o.client, id: job.GetID()}
	n := 0

	handle := func(rec record.Record) error {
		if err := out.Write(rec); err != nil {
			return err
		}
		n++

		if onRecord != nil {
			if err := onRecord(rec); err != nil {
				return err
			}
		}

		if n%o.pollEvery == 0 && p.poll(ctx) {
			logForJob(job.GetID()).Infof("scan reported done after %d records", n)
			return stream.ErrStop
		}
		return nil
	}

	open := func(ctx context.Context) (api.Feed, error) {
		return o.client.StreamByPorts(ctx, []int{port}, o.feedTimeout)
	}

	res.Phases = append(res.Phases, Waiting)
	o.sendStatus(fmt.Sprintf("waiting for results of scan %s", job.GetID()))

	c := stream.New(open, handle, o.consumerOptions(fmt.Sprintf("ports:%d", port), p)...)
	res.Stream, err = c.Run(ctx)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", job.GetID(), err)
	}

	res.Phases = append(res.Phases, phaseFor(res.Stream.Reason, false))
	closed = true
	if err := out.Close(); err != nil {
		return res, err
	}
	res.Phases = append(res.Phases, CleanedUp)

	return res, nil
}
