package report

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Count prints a bare total.
func (r *Reporter) Count(total int64) {
	fmt.Fprintln(r.w, total)
}

// Facets prints one table per requested facet, in request order. Facet names may carry a ":limit"
// suffix.
func (r *Reporter) Facets(query string, total int64, facets api.Facets, names []string) {
	fmt.Fprintf(r.w, "%s: %s results\n", r.linkQuery(query), r.number(total))

	for _, name := range names {
		name, _, _ = strings.Cut(name, ":")
		values, ok := facets[name]
		if !ok {
			continue
		}

		fmt.Fprintf(r.w, "\nTop %d Results for Facet: %s\n", len(values), r.paint(r.colors.Label, name))

		t := r.newTable()
		t.AppendHeader(table.Row{name, "Count"})
		t.AppendSeparator()
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})

		for _, v := range values {
			t.AppendRow(table.Row{r.paint(r.colors.Val, v.Value), r.number(v.Count)})
		}
		t.Render()
	}
}

// Account prints the remaining credits.
func (r *Reporter) Account(acct *api.Account) {
	fmt.Fprintf(r.w, "Query credits available: %d\n", acct.QueryCredits)
	fmt.Fprintf(r.w, "Scan credits available: %d\n", acct.ScanCredits)
	if acct.Plan != "" {
		fmt.Fprintf(r.w, "Plan: %s\n", acct.Plan)
	}
}

// Alerts lists network alerts.
func (r *Reporter) Alerts(alerts []*api.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(r.w, "You haven't created any alerts yet.")
		return
	}

	t := r.newTable()
	t.AppendHeader(table.Row{"ID", "Name", "Targets", "Expires"})
	t.AppendSeparator()

	wid := max(r.termWidth-60, 20)
	for _, a := range alerts {
		expires := "never"
		if a.Expires > 0 {
			expires = strconv.Itoa(a.Expires)
		}
		t.AppendRow(table.Row{
			r.paint(r.colors.Key, a.ID),
			a.Name,
			text.WrapSoft(strings.Join(a.Targets, ", "), wid),
			expires,
		})
	}
	t.Render()
}

// Protocols lists the protocols internet scans can use, sorted by name.
func (r *Reporter) Protocols(protocols map[string]string) {
	t := r.newTable()
	t.AppendHeader(table.Row{"Protocol", "Description"})
	t.AppendSeparator()

	for _, name := range slices.Sorted(maps.Keys(protocols)) {
		t.AppendRow(table.Row{r.paint(r.colors.Key, name), protocols[name]})
	}
	t.Render()
}

// Scans lists previously submitted scans.
func (r *Reporter) Scans(jobs []*api.ScanJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(r.w, "No scans submitted yet.")
		return
	}

	t := r.newTable()
	t.AppendHeader(table.Row{"ID", "Status", "Size", "Created"})
	t.AppendSeparator()
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})

	for _, j := range jobs {
		t.AppendRow(table.Row{r.paint(r.colors.Key, j.ID), j.Status, r.number(int64(j.Count)), j.Created})
	}
	t.Render()
}

// Job prints a single scan job.
func (r *Reporter) Job(job *api.ScanJob) {
	fmt.Fprintf(r.w, "Scan ID: %s\n", r.paint(r.colors.Key, job.ID))
	if job.Status != "" {
		fmt.Fprintf(r.w, "Status: %s\n", job.Status)
	}
	if job.Count > 0 {
		fmt.Fprintf(r.w, "Size: %s\n", r.number(int64(job.Count)))
	}
	if job.CreditsLeft > 0 {
		fmt.Fprintf(r.w, "Credits left: %s\n", r.number(int64(job.CreditsLeft)))
	}
}
