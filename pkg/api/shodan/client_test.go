package shodan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "TESTKEY"

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"Invalid API key"}`)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := New(testKey, WithBaseURL(srv.URL), WithStreamURL(srv.URL))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("  ")
	assert.ErrorIs(t, err, api.ErrNoAPIKey)
}

func TestClient_Count(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/host/count", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "port:22", r.URL.Query().Get("query"))
		assert.Equal(t, "country:2", r.URL.Query().Get("facets"))
		fmt.Fprint(w, `{"total": 1234, "facets": {"country": [{"count": 700, "value": "US"}, {"count": 300, "value": "CN"}]}}`)
	})

	c := newTestClient(t, mux)
	res, err := c.Count(context.Background(), "port:22", []string{"country:2"})
	require.NoError(t, err)
	assert.EqualValues(t, 1234, res.Total)
	require.Len(t, res.Facets["country"], 2)
	assert.Equal(t, api.FacetValue{Value: "US", Count: 700}, res.Facets["country"][0])
}

func TestClient_RemoteError(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	c.key = "WRONG"

	_, err := c.Info(context.Background())
	require.Error(t, err)

	var ae *api.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, "Invalid API key", ae.Message)
	assert.True(t, api.IsPermanent(err))
}

func TestClient_ErrorDocumentWith200(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/scan/abc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"Scan not found"}`)
	})

	c := newTestClient(t, mux)
	_, err := c.ScanStatus(context.Background(), "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Scan not found")
}

func TestClient_SearchPaging(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/host/search", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		n := pageSize
		if page == 3 {
			n = 20
		}
		if page > 3 {
			n = 0
		}

		matches := make([]map[string]any, n)
		for i := range matches {
			matches[i] = map[string]any{"ip_str": fmt.Sprintf("10.0.%d.%d", page, i), "port": 80}
		}
		json.NewEncoder(w).Encode(map[string]any{"total": 220, "matches": matches})
	})

	c := newTestClient(t, mux)

	res, err := c.Search(context.Background(), "http", api.SearchOptions{Limit: 150})
	require.NoError(t, err)
	assert.EqualValues(t, 220, res.Total)
	require.Len(t, res.Matches, 150)
	assert.Equal(t, "10.0.1.0", res.Matches[0].IP())
	assert.Equal(t, "10.0.2.49", res.Matches[149].IP())

	cur, err := c.SearchCursor(context.Background(), "http", api.SearchOptions{})
	require.NoError(t, err)

	n := 0
	for {
		_, err := cur.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 220, n)
}

func TestClient_Scans(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/scan", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "198.51.100.0/24,203.0.113.7", r.PostForm.Get("ips"))
		assert.Equal(t, "true", r.PostForm.Get("force"))
		fmt.Fprint(w, `{"id":"SCAN1","count":257,"credits_left":743}`)
	})
	mux.HandleFunc("/shodan/scan/internet", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "8080", r.PostForm.Get("port"))
		assert.Equal(t, "http", r.PostForm.Get("protocol"))
		fmt.Fprint(w, `{"id":"NET1"}`)
	})
	mux.HandleFunc("/shodan/scan/SCAN1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"SCAN1","status":"DONE","count":257,"created":"2024-01-01T00:00:00"}`)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	job, err := c.ScanSubmit(ctx, []string{"198.51.100.0/24", "203.0.113.7"}, true)
	require.NoError(t, err)
	assert.Equal(t, "SCAN1", job.ID)
	assert.Equal(t, 743, job.CreditsLeft)
	assert.Equal(t, api.ScanSubmitting, job.Status)

	job, err = c.ScanInternet(ctx, 8080, "http")
	require.NoError(t, err)
	assert.Equal(t, "NET1", job.ID)

	job, err = c.ScanStatus(ctx, "SCAN1")
	require.NoError(t, err)
	assert.True(t, job.Status.IsDone())
}

func TestClient_Alerts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/alert", func(w http.ResponseWriter, r *http.Request) {
		var body alertRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Scan: 198.51.100.0/24", body.Name)
		assert.Equal(t, []string{"198.51.100.0/24"}, body.Filters.IP)
		assert.Equal(t, 3600, body.Expires)
		fmt.Fprint(w, `{"id":"ALERT1","name":"Scan: 198.51.100.0/24","filters":{"ip":["198.51.100.0/24"]},"expires":3600}`)
	})
	mux.HandleFunc("/shodan/alert/ALERT1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		fmt.Fprint(w, `{}`)
	})
	mux.HandleFunc("/shodan/alert/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"ALERT1","name":"a","filters":{"ip":["1.2.3.4"]}},{"id":"ALERT2","name":"b","filters":{"ip":[]}}]`)
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	alert, err := c.CreateAlert(ctx, "Scan: 198.51.100.0/24", []string{"198.51.100.0/24"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "ALERT1", alert.ID)
	assert.Equal(t, []string{"198.51.100.0/24"}, alert.Targets)

	require.NoError(t, c.DeleteAlert(ctx, "ALERT1"))

	alerts, err := c.Alerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, []string{"1.2.3.4"}, alerts[0].Targets)
}

func TestClient_InfoAndMyIP(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api-info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"plan":"dev","query_credits":100,"scan_credits":200,"unlocked":true}`)
	})
	mux.HandleFunc("/tools/myip", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"203.0.113.9"`)
	})

	c := newTestClient(t, mux)

	acc, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, acc.QueryCredits)
	assert.Equal(t, 200, acc.ScanCredits)

	ip, err := c.MyIP(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", ip)
}

func TestFeed_ReadsBannersAndKeepAlives(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/ports/22,80", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "90", r.URL.Query().Get("t"))
		fmt.Fprint(w, "{\"ip_str\":\"1.1.1.1\",\"port\":22}\n\n")
		fmt.Fprint(w, "this is not json\n")
		fmt.Fprint(w, "{\"ip_str\":\"2.2.2.2\",\"port\":80}\n")
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	f, err := c.StreamByPorts(ctx, []int{22, 80}, 90*time.Second)
	require.NoError(t, err)
	defer f.Close()

	rec, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1", rec.IP())

	rec, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.2.2.2", rec.IP())

	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, api.ErrFeedClosed)
}

func TestFeed_CancelUnblocksRead(t *testing.T) {
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/banners", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"ip_str\":\"1.1.1.1\"}\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	c := newTestClient(t, mux)

	f, err := c.StreamBanners(context.Background(), 0)
	require.NoError(t, err)
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = f.Next(ctx)
	require.NoError(t, err)

	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed_OpenError(t *testing.T) {
	mux := http.NewServeMux()
	c := newTestClient(t, mux)
	c.key = "WRONG"

	_, err := c.StreamByAlert(context.Background(), "ALERT1", 0)
	require.Error(t, err)
	assert.True(t, api.IsPermanent(err))
}

func TestStreamFiltered(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/shodan/countries/BE,NL", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "{\"ip_str\":\"3.3.3.3\"}\n")
	})
	mux.HandleFunc("/shodan/custom", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "port:22 country:BE", r.URL.Query().Get("query"))
		fmt.Fprint(w, "{\"ip_str\":\"4.4.4.4\"}\n")
	})

	c := newTestClient(t, mux)
	ctx := context.Background()

	f, err := c.StreamFiltered(ctx, api.StreamFilter{Kind: api.FilterCountries, Values: []string{"BE", "NL"}}, 0)
	require.NoError(t, err)
	rec, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3.3.3.3", rec.IP())
	f.Close()

	f, err = c.StreamFiltered(ctx, api.StreamFilter{Kind: api.FilterCustom, Values: []string{"port:22 country:BE"}}, 0)
	require.NoError(t, err)
	rec, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4.4.4.4", rec.IP())
	f.Close()

	_, err = c.StreamFiltered(ctx, api.StreamFilter{Kind: "bogus", Values: []string{"x"}}, 0)
	assert.Error(t, err)
}
