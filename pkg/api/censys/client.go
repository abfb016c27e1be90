// Package censys serves the query side of api.Client (count, search, cursor) from the Censys
// Platform API. Scans, alerts and live feeds have no Censys counterpart and report
// api.ErrUnsupported.
//
// Censys returns one document per host; each service on the host is flattened into its own
// banner-shaped record (ip_str, port, transport, product, data, ...) so the formatter and the
// file sinks treat both providers the same way.
package censys

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	sdk "github.com/censys/censys-sdk-go"
	"github.com/censys/censys-sdk-go/models/components"
	"github.com/censys/censys-sdk-go/models/operations"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const provider = "censys"

// Client adapts the Censys SDK to api.Client.
type Client struct {
	sdk *sdk.SDK
}

var _ api.Client = (*Client)(nil)

// New creates a client from a personal access token and organization id.
func New(token, org string) (*Client, error) {
	if token == "" || org == "" {
		return nil, fmt.Errorf("censys provider needs a token and an organization id: %w", api.ErrNoAPIKey)
	}

	return &Client{
		sdk: sdk.New(
			sdk.WithSecurity(token),
			sdk.WithOrganizationID(org),
		),
	}, nil
}

// page runs one search request and returns the raw result document.
func (c *Client) page(ctx context.Context, query string, token *string) (gjson.Result, error) {
	req := operations.V3GlobaldataSearchQueryRequest{
		SearchQueryInputBody: components.SearchQueryInputBody{
			Query:     query,
			PageToken: token,
		},
	}

	res, err := c.sdk.GlobalData.Search(ctx, req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("censys search: %w", err)
	}

	// go through json so everything past this point deals with gjson paths instead of the
	// generated model types
	jstr, err := json.Marshal(res.GetResponseEnvelopeSearchQueryResponse().GetResult())
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal search result: %w", err)
	}

	parsed := gjson.ParseBytes(jstr)
	if !parsed.IsObject() {
		return gjson.Result{}, fmt.Errorf("censys search: empty response")
	}

	return parsed, nil
}

// Count runs the query and reports its total hit count. Facets are not available through this
// provider and are ignored.
func (c *Client) Count(ctx context.Context, query string, facets []string) (*api.CountResult, error) {
	if len(facets) > 0 {
		log.Warnf("censys provider does not support facets, ignoring %v", facets)
	}

	res, err := c.page(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	return &api.CountResult{Total: res.Get("total_hits").Int()}, nil
}

// Search collects up to opts.Limit service records (a single page when Limit is zero).
func (c *Client) Search(ctx context.Context, query string, opts api.SearchOptions) (*api.SearchResult, error) {
	cur := &cursor{c: c, query: query}

	out := &api.SearchResult{}
	for opts.Limit <= 0 || len(out.Matches) < opts.Limit {
		rec, err := cur.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		out.Matches = append(out.Matches, rec)

		if opts.Limit <= 0 && len(cur.buf) == 0 {
			break
		}
	}
	out.Total = cur.total

	return out, nil
}

// SearchCursor walks every page of the query.
func (c *Client) SearchCursor(_ context.Context, query string, _ api.SearchOptions) (api.Cursor, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	return &cursor{c: c, query: query}, nil
}

type cursor struct {
	c     *Client
	query string
	next  *string
	buf   []record.Record
	total int64
	pages int
	done  bool
}

func (cur *cursor) Next(ctx context.Context) (record.Record, error) {
	for len(cur.buf) == 0 {
		if cur.done {
			return record.Record{}, io.EOF
		}

		res, err := cur.c.page(ctx, cur.query, cur.next)
		if err != nil {
			return record.Record{}, err
		}
		cur.pages++
		cur.total = res.Get("total_hits").Int()

		for _, hit := range res.Get("hits").Array() {
			cur.buf = append(cur.buf, HostRecords(hit.Get("host_v1.resource"))...)
		}

		token := res.Get("next_page_token").String()
		if token == "" || len(res.Get("hits").Array()) == 0 {
			cur.done = true
		}
		cur.next = &token

		log.Debugf("censys page %d for %q: %d records buffered", cur.pages, cur.query, len(cur.buf))
	}

	rec := cur.buf[0]
	cur.buf = cur.buf[1:]
	return rec, nil
}

// HostRecords flattens one Censys host document into banner records, one per service. A host
// without services yields a single record carrying only the host-level fields.
func HostRecords(host gjson.Result) []record.Record {
	ip := host.Get("ip").String()
	if ip == "" {
		return nil
	}

	base := map[string]any{"ip_str": ip}
	if v := host.Get("location"); v.IsObject() {
		base["location"] = v.Value()
	}
	if v := host.Get("autonomous_system.name"); v.Exists() {
		base["org"] = v.String()
		base["isp"] = v.String()
	}
	if v := host.Get("autonomous_system.asn"); v.Exists() {
		base["asn"] = fmt.Sprintf("AS%d", v.Int())
	}
	if v := host.Get("operating_system.product"); v.Exists() {
		base["os"] = v.String()
	}

	var hostnames []string
	for _, n := range host.Get("dns.names").Array() {
		hostnames = append(hostnames, n.String())
	}
	for _, n := range host.Get("dns.reverse_dns.names").Array() {
		hostnames = append(hostnames, n.String())
	}
	if len(hostnames) > 0 {
		base["hostnames"] = hostnames
	}

	services := host.Get("services").Array()
	if len(services) == 0 {
		rec, err := record.FromValue(base)
		if err != nil {
			return nil
		}
		return []record.Record{rec}
	}

	out := make([]record.Record, 0, len(services))
	for _, svc := range services {
		m := make(map[string]any, len(base)+6)
		maps.Copy(m, base)

		m["port"] = svc.Get("port").Int()
		m["transport"] = strings.ToLower(svc.Get("transport_protocol").String())
		m["data"] = svc.Get("banner").String()
		if v := svc.Get("protocol"); v.Exists() {
			m["_shodan"] = map[string]any{"module": strings.ToLower(v.String())}
		}
		if v := svc.Get("software.0.product"); v.Exists() {
			m["product"] = v.String()
		}
		if v := svc.Get("software.0.version"); v.Exists() {
			m["version"] = v.String()
		}
		if v := svc.Get("scan_time"); v.Exists() {
			m["timestamp"] = v.String()
		}

		rec, err := record.FromValue(m)
		if err != nil {
			log.Debugf("skipping service %s:%d: %v", ip, svc.Get("port").Int(), err)
			continue
		}
		out = append(out, rec)
	}

	return out
}

func (c *Client) Info(context.Context) (*api.Account, error) {
	return nil, api.Unsupported(provider, "account info")
}

func (c *Client) MyIP(context.Context) (string, error) {
	return "", api.Unsupported(provider, "myip")
}

func (c *Client) ScanSubmit(context.Context, []string, bool) (*api.ScanJob, error) {
	return nil, api.Unsupported(provider, "scan submit")
}

func (c *Client) ScanInternet(context.Context, int, string) (*api.ScanJob, error) {
	return nil, api.Unsupported(provider, "internet scan")
}

func (c *Client) ScanStatus(context.Context, string) (*api.ScanJob, error) {
	return nil, api.Unsupported(provider, "scan status")
}

func (c *Client) Scans(context.Context) ([]*api.ScanJob, error) {
	return nil, api.Unsupported(provider, "scan list")
}

func (c *Client) Protocols(context.Context) (map[string]string, error) {
	return nil, api.Unsupported(provider, "protocols")
}

func (c *Client) CreateAlert(context.Context, string, []string, time.Duration) (*api.Alert, error) {
	return nil, api.Unsupported(provider, "create alert")
}

func (c *Client) DeleteAlert(context.Context, string) error {
	return api.Unsupported(provider, "delete alert")
}

func (c *Client) Alerts(context.Context) ([]*api.Alert, error) {
	return nil, api.Unsupported(provider, "alerts")
}

func (c *Client) StreamBanners(context.Context, time.Duration) (api.Feed, error) {
	return nil, api.Unsupported(provider, "banner stream")
}

func (c *Client) StreamByPorts(context.Context, []int, time.Duration) (api.Feed, error) {
	return nil, api.Unsupported(provider, "port stream")
}

func (c *Client) StreamByAlert(context.Context, string, time.Duration) (api.Feed, error) {
	return nil, api.Unsupported(provider, "alert stream")
}

func (c *Client) StreamFiltered(context.Context, api.StreamFilter, time.Duration) (api.Feed, error) {
	return nil, api.Unsupported(provider, "filtered stream")
}
