package scan

import (
	"fmt"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/stream"
)

// Phase is the lifecycle position of a scan invocation.
type Phase int

const (
	Submitted Phase = iota
	Waiting
	Done
	TimedOut
	Interrupted
	CleanedUp
)

func (p Phase) String() string {
	switch p {
	case Submitted:
		return "SUBMITTED"
	case Waiting:
		return "WAITING"
	case Done:
		return "DONE"
	case TimedOut:
		return "TIMED_OUT"
	case Interrupted:
		return "INTERRUPTED"
	case CleanedUp:
		return "CLEANED_UP"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

const (
	// DefaultPollEvery is the record interval between status polls of an internet scan.
	DefaultPollEvery = 10000

	// DefaultPollInterval is the wall-clock interval between status polls of a submitted scan.
	DefaultPollInterval = time.Minute

	// DefaultFeedTimeout is the idle timeout of the internet scan feed.
	DefaultFeedTimeout = 90 * time.Second

	// cleanupTimeout bounds alert deletion after the caller's context is gone.
	cleanupTimeout = 10 * time.Second
)

// StatusCallback receives human-readable progress messages (a spinner, a logger).
type StatusCallback func(message string)

// RecordCallback receives every record the orchestrator keeps, after it has been stored.
type RecordCallback = stream.Handler

// Phases is the ordered list of phases a scan went through.
type Phases []Phase

// Outcome is the terminal phase reached before cleanup (DONE, TIMED_OUT or INTERRUPTED), or the
// last phase reached when the scan never got that far.
func (ps Phases) Outcome() Phase {
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i] != CleanedUp {
			return ps[i]
		}
	}
	return Submitted
}

// InternetResult describes a finished internet scan.
type InternetResult struct {
	Job    *api.ScanJob
	Phases Phases
	Stream stream.Result
}

// SubmitOptions tunes a submitted-netblock scan.
type SubmitOptions struct {
	// Wait is how long to collect results. Zero or less submits and returns immediately.
	Wait  time.Duration
	Force bool
}

// SubmitResult describes a finished submitted-netblock scan.
type SubmitResult struct {
	Job    *api.ScanJob
	Alert  *api.Alert
	Phases Phases
	Hosts  *HostAggregate
	Stream stream.Result
}
