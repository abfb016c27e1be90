package shodan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/tidwall/gjson"
)

// ScanSubmit requests an on-demand scan of the given IPs/netblocks.
func (c *Client) ScanSubmit(ctx context.Context, targets []string, force bool) (*api.ScanJob, error) {
	form := url.Values{"ips": {strings.Join(targets, ",")}}
	if force {
		form.Set("force", "true")
	}

	data, err := c.do(ctx, http.MethodPost, "/shodan/scan", nil, form)
	if err != nil {
		return nil, err
	}

	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}
	job.Targets = targets
	if job.Status == "" {
		job.Status = api.ScanSubmitting
	}
	return job, nil
}

// ScanInternet requests a scan of the whole Internet for one port/protocol pair.
func (c *Client) ScanInternet(ctx context.Context, port int, protocol string) (*api.ScanJob, error) {
	form := url.Values{
		"port":     {strconv.Itoa(port)},
		"protocol": {protocol},
	}

	data, err := c.do(ctx, http.MethodPost, "/shodan/scan/internet", nil, form)
	if err != nil {
		return nil, err
	}

	job, err := decodeJob(data)
	if err != nil {
		return nil, err
	}
	if job.Status == "" {
		job.Status = api.ScanSubmitting
	}
	return job, nil
}

// ScanStatus polls a scan job.
func (c *Client) ScanStatus(ctx context.Context, id string) (*api.ScanJob, error) {
	data, err := c.do(ctx, http.MethodGet, "/shodan/scan/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

// Scans lists the account's recent scans.
func (c *Client) Scans(ctx context.Context) ([]*api.ScanJob, error) {
	data, err := c.do(ctx, http.MethodGet, "/shodan/scans", nil, nil)
	if err != nil {
		return nil, err
	}

	var out []*api.ScanJob
	for _, m := range gjson.GetBytes(data, "matches").Array() {
		job, err := decodeJob([]byte(m.Raw))
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

// Protocols lists the protocol names usable with ScanInternet.
func (c *Client) Protocols(ctx context.Context) (map[string]string, error) {
	data, err := c.do(ctx, http.MethodGet, "/shodan/protocols", nil, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode protocols: %w", err)
	}
	return out, nil
}

func decodeJob(data []byte) (*api.ScanJob, error) {
	res := gjson.ParseBytes(data)
	if !res.Get("id").Exists() {
		return nil, fmt.Errorf("scan response without id: %.80s", data)
	}

	return &api.ScanJob{
		ID:          res.Get("id").String(),
		Status:      api.ScanStatus(strings.ToUpper(res.Get("status").String())),
		Count:       int(res.Get("count").Int()),
		CreditsLeft: int(res.Get("credits_left").Int()),
		Created:     res.Get("created").String(),
	}, nil
}

type alertRequest struct {
	Name    string        `json:"name"`
	Filters api.AlertSpec `json:"filters"`
	Expires int           `json:"expires,omitempty"`
}

// CreateAlert creates a network alert for targets.
func (c *Client) CreateAlert(ctx context.Context, name string, targets []string, expires time.Duration) (*api.Alert, error) {
	body := alertRequest{
		Name:    name,
		Filters: api.AlertSpec{IP: targets},
		Expires: int(expires / time.Second),
	}

	data, err := c.do(ctx, http.MethodPost, "/shodan/alert", nil, body)
	if err != nil {
		return nil, err
	}

	return decodeAlert(data)
}

// DeleteAlert removes an alert.
func (c *Client) DeleteAlert(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/shodan/alert/"+url.PathEscape(id), nil, nil)
	return err
}

// Alerts lists the account's alerts.
func (c *Client) Alerts(ctx context.Context) ([]*api.Alert, error) {
	data, err := c.do(ctx, http.MethodGet, "/shodan/alert/info", nil, nil)
	if err != nil {
		return nil, err
	}

	var out []*api.Alert
	for _, a := range gjson.ParseBytes(data).Array() {
		alert, err := decodeAlert([]byte(a.Raw))
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, nil
}

func decodeAlert(data []byte) (*api.Alert, error) {
	var a api.Alert
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode alert: %w", err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("alert response without id: %.80s", data)
	}
	a.Targets = a.Filters.IP
	return &a, nil
}
