package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/stream"
)

var errWaitElapsed = errors.New("scan wait elapsed")

// AlertName is the name of the temporary alert scoping the results of a submitted scan.
func AlertName(targets []string) string {
	return "Scan: " + strings.Join(targets, ", ")
}

// Submit scans the given netblocks. With opts.Wait <= 0 it only submits the job. Otherwise it
// creates a temporary alert for the targets, submits the scan and collects the alert feed into a
// HostAggregate for at most opts.Wait, polling the job status every pollInterval and whenever the
// feed breaks. The alert is deleted before returning, even when ctx was cancelled.
func (o *Orchestrator) Submit(ctx context.Context, targets []string, opts SubmitOptions, onRecord RecordCallback) (res *SubmitResult, err error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no scan targets")
	}
	for _, t := range targets {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("empty scan target")
		}
	}

	if opts.Wait <= 0 {
		job, err := o.client.ScanSubmit(ctx, targets, opts.Force)
		if err != nil {
			return nil, fmt.Errorf("submit scan: %w", err)
		}
		return &SubmitResult{Job: job, Phases: Phases{Submitted}, Hosts: NewHostAggregate()}, nil
	}

	o.sendStatus(fmt.Sprintf("creating alert for %d targets", len(targets)))
	alert, err := o.client.CreateAlert(ctx, AlertName(targets), targets, api.DefaultAlertExpiry)
	if err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	res = &SubmitResult{Alert: alert, Hosts: NewHostAggregate()}
	defer func() {
		o.deleteAlert(ctx, alert)
		res.Phases = append(res.Phases, CleanedUp)
	}()

	job, err := o.client.ScanSubmit(ctx, targets, opts.Force)
	if err != nil {
		return res, fmt.Errorf("submit scan: %w", err)
	}
	res.Job = job
	res.Phases = append(res.Phases, Submitted)
	logForJob(job.GetID()).Infof("scan submitted for %d targets, %d credits left", len(targets), job.CreditsLeft)

	waitCtx, cancel := context.WithTimeoutCause(ctx, opts.Wait, errWaitElapsed)
	defer cancel()

	p := &poller{client: o.client, id: job.GetID()}
	last := o.now()

	handle := func(rec record.Record) error {
		if !res.Hosts.Add(rec) {
			return nil
		}

		if onRecord != nil {
			if err := onRecord(rec); err != nil {
				return err
			}
		}

		if now := o.now(); now.Sub(last) >= o.pollInterval {
			last = now
			if p.poll(waitCtx) {
				return stream.ErrStop
			}
		}
		return nil
	}

	open := func(ctx context.Context) (api.Feed, error) {
		return o.client.StreamByAlert(ctx, alert.GetID(), opts.Wait)
	}

	res.Phases = append(res.Phases, Waiting)
	o.sendStatus(fmt.Sprintf("waiting up to %s for results of scan %s", opts.Wait, job.GetID()))

	c := stream.New(open, handle, o.consumerOptions("alert:"+alert.GetID(), p)...)
	res.Stream, err = c.Run(waitCtx)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", job.GetID(), err)
	}

	timedOut := ctx.Err() == nil && errors.Is(context.Cause(waitCtx), errWaitElapsed)
	res.Phases = append(res.Phases, phaseFor(res.Stream.Reason, timedOut))
	logForJob(job.GetID()).Infof("scan finished (%s): %d hosts, %d records", res.Phases.Outcome(), res.Hosts.Len(), res.Hosts.Records())

	return res, nil
}

// deleteAlert removes the temporary alert with a context detached from ctx so cancellation still
// cleans up. Failures are logged only.
func (o *Orchestrator) deleteAlert(ctx context.Context, alert *api.Alert) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := o.client.DeleteAlert(cctx, alert.GetID()); err != nil {
		logForJob("").WithField("alert", alert.GetID()).WithError(err).Warn("could not delete temporary alert")
		return
	}
	logForJob("").WithField("alert", alert.GetID()).Debug("temporary alert deleted")
}
