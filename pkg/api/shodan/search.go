package shodan

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// pageSize is the fixed number of matches the service returns per search page.
const pageSize = 100

// Count returns the number of results for query without consuming query credits.
func (c *Client) Count(ctx context.Context, query string, facets []string) (*api.CountResult, error) {
	params := url.Values{"query": {query}}
	if len(facets) > 0 {
		params.Set("facets", strings.Join(facets, ","))
	}

	data, err := c.do(ctx, http.MethodGet, "/shodan/host/count", params, nil)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(data)
	return &api.CountResult{
		Total:  res.Get("total").Int(),
		Facets: parseFacets(res.Get("facets")),
	}, nil
}

func (c *Client) searchPage(ctx context.Context, query string, page int, opts api.SearchOptions) (*api.SearchResult, error) {
	params := url.Values{
		"query": {query},
		"page":  {strconv.Itoa(page)},
	}
	if opts.Minify {
		params.Set("minify", "true")
	}
	if len(opts.Facets) > 0 {
		params.Set("facets", strings.Join(opts.Facets, ","))
	}

	data, err := c.do(ctx, http.MethodGet, "/shodan/host/search", params, nil)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(data)
	out := &api.SearchResult{
		Total:  res.Get("total").Int(),
		Facets: parseFacets(res.Get("facets")),
	}

	for _, m := range res.Get("matches").Array() {
		rec, err := record.FromResult(m)
		if err != nil {
			log.Debugf("skipping malformed match: %v", err)
			continue
		}
		out.Matches = append(out.Matches, rec)
	}

	return out, nil
}

// Search returns up to opts.Limit matches starting at opts.Page (1-based), fetching as many pages
// as needed. A zero limit returns a single page.
func (c *Client) Search(ctx context.Context, query string, opts api.SearchOptions) (*api.SearchResult, error) {
	page := max(opts.Page, 1)

	res, err := c.searchPage(ctx, query, page, opts)
	if err != nil {
		return nil, err
	}

	for opts.Limit > len(res.Matches) {
		page++
		next, err := c.searchPage(ctx, query, page, api.SearchOptions{Minify: opts.Minify})
		if err != nil {
			return nil, err
		}
		if len(next.Matches) == 0 {
			break
		}
		res.Matches = append(res.Matches, next.Matches...)
	}

	if opts.Limit > 0 && len(res.Matches) > opts.Limit {
		res.Matches = res.Matches[:opts.Limit]
	}

	return res, nil
}

// SearchCursor walks every page of a query.
func (c *Client) SearchCursor(_ context.Context, query string, opts api.SearchOptions) (api.Cursor, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	return &cursor{c: c, query: query, opts: opts, page: max(opts.Page, 1) - 1}, nil
}

type cursor struct {
	c     *Client
	query string
	opts  api.SearchOptions
	page  int
	buf   []record.Record
	done  bool
}

func (cur *cursor) Next(ctx context.Context) (record.Record, error) {
	for len(cur.buf) == 0 {
		if cur.done {
			return record.Record{}, io.EOF
		}

		cur.page++
		res, err := cur.c.searchPage(ctx, cur.query, cur.page, cur.opts)
		if err != nil {
			return record.Record{}, fmt.Errorf("page %d: %w", cur.page, err)
		}

		cur.buf = res.Matches
		if len(res.Matches) < pageSize {
			cur.done = true
		}
	}

	rec := cur.buf[0]
	cur.buf = cur.buf[1:]
	return rec, nil
}

func parseFacets(res gjson.Result) api.Facets {
	if !res.IsObject() {
		return nil
	}

	out := make(api.Facets)
	res.ForEach(func(name, buckets gjson.Result) bool {
		for _, b := range buckets.Array() {
			out[name.String()] = append(out[name.String()], api.FacetValue{
				Value: b.Get("value").String(),
				Count: b.Get("count").Int(),
			})
		}
		return true
	})

	return out
}
