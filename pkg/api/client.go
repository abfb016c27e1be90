// Package api describes the capability set shodan-ng needs from a host-search service. The
// command layer and the streaming core only ever talk to these interfaces; concrete backends live
// in the shodan and censys subpackages.
package api

import (
	"context"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
)

// Feed is a live, server-pushed sequence of records. Next blocks until a record arrives, the
// transport fails, or ctx is done. A Feed is not safe for concurrent use.
type Feed interface {
	Next(ctx context.Context) (record.Record, error)
	Close() error
}

// Searcher covers the one-shot query endpoints.
type Searcher interface {
	Count(ctx context.Context, query string, facets []string) (*CountResult, error)
	Search(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error)
	SearchCursor(ctx context.Context, query string, opts SearchOptions) (Cursor, error)
}

// Scanner covers on-demand scanning.
type Scanner interface {
	ScanSubmit(ctx context.Context, targets []string, force bool) (*ScanJob, error)
	ScanInternet(ctx context.Context, port int, protocol string) (*ScanJob, error)
	ScanStatus(ctx context.Context, id string) (*ScanJob, error)
	Scans(ctx context.Context) ([]*ScanJob, error)
	Protocols(ctx context.Context) (map[string]string, error)
}

// Alerter covers network alerts, which scope a feed to a set of targets.
type Alerter interface {
	CreateAlert(ctx context.Context, name string, targets []string, expires time.Duration) (*Alert, error)
	DeleteAlert(ctx context.Context, id string) error
	Alerts(ctx context.Context) ([]*Alert, error)
}

// Streamer opens live feeds. timeout is the server-side idle timeout; zero means none.
type Streamer interface {
	StreamBanners(ctx context.Context, timeout time.Duration) (Feed, error)
	StreamByPorts(ctx context.Context, ports []int, timeout time.Duration) (Feed, error)
	StreamByAlert(ctx context.Context, alertID string, timeout time.Duration) (Feed, error)
	StreamFiltered(ctx context.Context, filter StreamFilter, timeout time.Duration) (Feed, error)
}

// Client is the full capability set.
type Client interface {
	Searcher
	Scanner
	Alerter
	Streamer

	Info(ctx context.Context) (*Account, error)
	MyIP(ctx context.Context) (string, error)
}

// Cursor pages through search results one record at a time. Next returns io.EOF once the result
// set is exhausted.
type Cursor interface {
	Next(ctx context.Context) (record.Record, error)
}
