package report

import (
	"fmt"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/scan"
	"github.com/xlab/treeprint"
)

// NoOpenPorts is printed instead of a summary when a submitted scan observed nothing.
const NoOpenPorts = "No open ports found or the host has been recently crawled and cant get scanned again so soon."

// hostFields are shown for every host of a scan summary, from the most recent record having them.
var hostFields = []struct {
	label string
	field string
}{
	{"Country", "location.country_name"},
	{"City", "location.city"},
	{"Organization", "org"},
	{"Operating System", "os"},
}

// InternetLine formats the running per-record line of an internet scan.
func InternetLine(rec record.Record) string {
	return fmt.Sprintf("%-40s %-20d %s", rec.IP(), rec.Port(), strings.Join(rec.Hostnames(), ";"))
}

// ScanFinished prints the final tally of an internet scan.
func (r *Reporter) ScanFinished(devices int) {
	fmt.Fprintf(r.w, "Scan finished: %s devices found\n", r.number(int64(devices)))
}

// ScanSummary prints one tree per host with its location, ownership and open ports.
func (r *Reporter) ScanSummary(hosts []*scan.Host) {
	if len(hosts) == 0 {
		fmt.Fprintln(r.w, r.paint(r.colors.Warning, NoOpenPorts))
		return
	}

	for _, h := range hosts {
		fmt.Fprintln(r.w, r.hostTree(h).String())
	}
}

func (r *Reporter) hostTree(h *scan.Host) treeprint.Tree {
	tree := treeprint.New()

	title := r.paint(r.colors.Host, r.linkHost(h.IP))
	if names := h.Hostnames(); len(names) > 0 {
		title = fmt.Sprintf("%s (%s)", title, strings.Join(names, ", "))
	}
	tree.SetValue(title)

	for _, hf := range hostFields {
		v := h.Latest(hf.field).Get(hf.field).String()
		if v == "" {
			continue
		}
		tree.AddNode(fmt.Sprintf("%-18s%s", hf.label, v))
	}

	ports := tree.AddBranch(r.paint(r.colors.Label, "Open Ports"))
	for _, svc := range h.Services() {
		label := fmt.Sprintf("%d/%s", svc.Port, svc.Transport)
		if svc.Product != "" {
			label += " " + r.paint(r.colors.Val, svc.Product)
		}
		if svc.Version != "" {
			label += fmt.Sprintf(" (%s)", svc.Version)
		}

		branch := ports.AddBranch(label)
		if data := strings.TrimRight(svc.Data, "\r\n\t "); data != "" {
			branch.AddNode(strings.ReplaceAll(data, "\r\n", "\n"))
		}
	}

	return tree
}
