package shodan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	log "github.com/sirupsen/logrus"
)

// StreamBanners subscribes to the unfiltered firehose.
func (c *Client) StreamBanners(ctx context.Context, timeout time.Duration) (api.Feed, error) {
	return c.openFeed(ctx, "/shodan/banners", nil, timeout)
}

// StreamByPorts subscribes to banners on the given ports.
func (c *Client) StreamByPorts(ctx context.Context, ports []int, timeout time.Duration) (api.Feed, error) {
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports given")
	}

	s := make([]string, len(ports))
	for i, p := range ports {
		s[i] = strconv.Itoa(p)
	}
	return c.openFeed(ctx, "/shodan/ports/"+strings.Join(s, ","), nil, timeout)
}

// StreamByAlert subscribes to banners matching a network alert.
func (c *Client) StreamByAlert(ctx context.Context, alertID string, timeout time.Duration) (api.Feed, error) {
	path := "/shodan/alert"
	if alertID != "" {
		path += "/" + url.PathEscape(alertID)
	}
	return c.openFeed(ctx, path, nil, timeout)
}

// StreamFiltered subscribes to one of the asn/countries/tags/vulns/custom feeds.
func (c *Client) StreamFiltered(ctx context.Context, filter api.StreamFilter, timeout time.Duration) (api.Feed, error) {
	if len(filter.Values) == 0 {
		return nil, fmt.Errorf("stream filter %q without values", filter.Kind)
	}

	switch filter.Kind {
	case api.FilterASN, api.FilterCountries, api.FilterTags, api.FilterVulns:
		return c.openFeed(ctx, fmt.Sprintf("/shodan/%s/%s", filter.Kind, strings.Join(filter.Values, ",")), nil, timeout)
	case api.FilterCustom:
		return c.openFeed(ctx, "/shodan/custom", url.Values{"query": {strings.Join(filter.Values, " ")}}, timeout)
	}

	return nil, fmt.Errorf("unknown stream filter %q", filter.Kind)
}

func (c *Client) openFeed(ctx context.Context, path string, params url.Values, timeout time.Duration) (api.Feed, error) {
	if params == nil {
		params = url.Values{}
	}
	if timeout > 0 {
		params.Set("t", strconv.Itoa(int(timeout/time.Second)))
	}

	fctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, c.endpoint(c.streamURL, path, params), nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	log.Debugf("opening feed %s%s", c.streamURL, path)

	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		defer cancel()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, remoteError(resp.StatusCode, body)
	}

	return &feed{
		path:   path,
		body:   resp.Body,
		r:      bufio.NewReaderSize(resp.Body, 64*1024),
		cancel: cancel,
	}, nil
}

// feed reads newline-delimited JSON banners from a chunked HTTP response. Blank lines are
// keep-alives.
type feed struct {
	path   string
	body   io.ReadCloser
	r      *bufio.Reader
	cancel context.CancelFunc
}

func (f *feed) Next(ctx context.Context) (record.Record, error) {
	// a blocked body read only returns once the request context is cancelled
	stop := context.AfterFunc(ctx, f.cancel)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return record.Record{}, err
		}

		line, err := f.r.ReadBytes('\n')
		if err == nil || (errors.Is(err, io.EOF) && len(line) > 0) {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			rec, perr := record.Parse(line)
			if perr != nil {
				if err != nil {
					// truncated final line
					return record.Record{}, fmt.Errorf("feed %s: %w", f.path, perr)
				}
				log.Debugf("feed %s: skipping undecodable line: %v", f.path, perr)
				continue
			}
			return rec, nil
		}

		if ctx.Err() != nil {
			return record.Record{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return record.Record{}, api.ErrFeedClosed
		}
		return record.Record{}, fmt.Errorf("read feed %s: %w", f.path, err)
	}
}

func (f *feed) Close() error {
	f.cancel()
	return f.body.Close()
}
