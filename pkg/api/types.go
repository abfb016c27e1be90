package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
)

// ScanStatus is the remote state of a scan job.
type ScanStatus string

const (
	ScanSubmitting ScanStatus = "SUBMITTING"
	ScanQueued     ScanStatus = "QUEUE"
	ScanProcessing ScanStatus = "PROCESSING"
	ScanRunning    ScanStatus = "RUNNING"
	ScanDone       ScanStatus = "DONE"
)

// IsDone reports whether the status is terminal.
func (s ScanStatus) IsDone() bool { return strings.EqualFold(string(s), string(ScanDone)) }

// ScanJob is a submitted scan as reported by the service.
type ScanJob struct {
	ID          string     `json:"id"`
	Status      ScanStatus `json:"status,omitempty"`
	Count       int        `json:"count,omitempty"`
	CreditsLeft int        `json:"credits_left,omitempty"`
	Created     string     `json:"created,omitempty"`
	Targets     []string   `json:"-"`
}

func (j *ScanJob) GetID() string {
	if j == nil {
		return ""
	}
	return j.ID
}

func (j *ScanJob) GetStatus() ScanStatus {
	if j == nil {
		return ""
	}
	return j.Status
}

// Alert is a network alert; here only used to scope a feed to submitted targets.
type Alert struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Targets []string  `json:"-"`
	Created string    `json:"created,omitempty"`
	Expires int       `json:"expires,omitempty"`
	Filters AlertSpec `json:"filters"`
}

// AlertSpec is the filter block of an alert.
type AlertSpec struct {
	IP []string `json:"ip"`
}

func (a *Alert) GetID() string {
	if a == nil {
		return ""
	}
	return a.ID
}

// Account holds the credit bookkeeping returned by the account endpoint.
type Account struct {
	Plan         string `json:"plan"`
	QueryCredits int    `json:"query_credits"`
	ScanCredits  int    `json:"scan_credits"`
	MonitoredIPs int    `json:"monitored_ips"`
	Unlocked     bool   `json:"unlocked"`
	UnlockedLeft int    `json:"unlocked_left"`
}

// FacetValue is one bucket of a facet.
type FacetValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Facets maps a facet name to its buckets, ordered as returned.
type Facets map[string][]FacetValue

// CountResult is the answer to a count query.
type CountResult struct {
	Total  int64  `json:"total"`
	Facets Facets `json:"facets,omitempty"`
}

// SearchResult is one page of search matches.
type SearchResult struct {
	Total   int64           `json:"total"`
	Matches []record.Record `json:"matches"`
	Facets  Facets          `json:"facets,omitempty"`
}

// SearchOptions tunes Search and SearchCursor.
type SearchOptions struct {
	Page   int
	Limit  int
	Minify bool
	Facets []string
}

// StreamFilterKind names the alternative filtered feeds.
type StreamFilterKind string

const (
	FilterASN       StreamFilterKind = "asn"
	FilterCountries StreamFilterKind = "countries"
	FilterTags      StreamFilterKind = "tags"
	FilterVulns     StreamFilterKind = "vulns"
	FilterCustom    StreamFilterKind = "custom"
)

// StreamFilter selects a filtered feed. For FilterCustom, Values holds a single query string.
type StreamFilter struct {
	Kind   StreamFilterKind
	Values []string
}

func (f StreamFilter) String() string {
	return fmt.Sprintf("%s:%s", f.Kind, strings.Join(f.Values, ","))
}

// FormatFacet renders a facet request the way the service expects ("country:10").
func FormatFacet(name string, limit int) string {
	if limit <= 0 || strings.Contains(name, ":") {
		return name
	}
	return fmt.Sprintf("%s:%d", name, limit)
}

// DefaultAlertExpiry is how long the temporary alert of a submitted scan lives if it is never
// cleaned up.
const DefaultAlertExpiry = time.Hour
