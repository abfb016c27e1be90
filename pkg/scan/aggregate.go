package scan

import (
	"cmp"
	"net/netip"
	"slices"

	"github.com/censys-research/shodan-ng/pkg/record"
	log "github.com/sirupsen/logrus"
)

func logForHost(ip string) *log.Entry {
	return log.WithField("host", ip)
}

// Host collects every record seen for one IP during a scan.
type Host struct {
	IP      string
	Records []record.Record
}

// Latest returns the most recent record carrying field, or a zero record.
func (h *Host) Latest(field string) record.Record {
	for i := len(h.Records) - 1; i >= 0; i-- {
		if h.Records[i].Get(field).Exists() {
			return h.Records[i]
		}
	}
	return record.Record{}
}

// Hostnames returns the union of hostnames over all records, in first-seen order.
func (h *Host) Hostnames() []string {
	seen := map[string]bool{}
	var out []string
	for _, rec := range h.Records {
		for _, name := range rec.Hostnames() {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Service is one open port of a host, as last observed.
type Service struct {
	Port      int
	Transport string
	Product   string
	Version   string
	Data      string
}

// Services returns the open ports of the host sorted by port then transport. When a port was
// observed more than once, the latest record wins.
func (h *Host) Services() []Service {
	type key struct {
		port      int
		transport string
	}

	byKey := map[key]Service{}
	for _, rec := range h.Records {
		port := rec.Port()
		if port == 0 {
			continue
		}

		transport := rec.Get("transport").String()
		if transport == "" {
			transport = "tcp"
		}

		byKey[key{port, transport}] = Service{
			Port:      port,
			Transport: transport,
			Product:   rec.Get("product").String(),
			Version:   rec.Get("version").String(),
			Data:      rec.Get("data").String(),
		}
	}

	out := make([]Service, 0, len(byKey))
	for _, svc := range byKey {
		out = append(out, svc)
	}

	slices.SortFunc(out, func(a, b Service) int {
		if c := cmp.Compare(a.Port, b.Port); c != 0 {
			return c
		}
		return cmp.Compare(a.Transport, b.Transport)
	})

	return out
}

// HostAggregate maps IPs to the records observed for them. It only grows.
type HostAggregate struct {
	hosts map[string]*Host
	total int
}

func NewHostAggregate() *HostAggregate {
	return &HostAggregate{hosts: map[string]*Host{}}
}

// Add appends rec to its host. Records without an IP are ignored and reported false.
func (a *HostAggregate) Add(rec record.Record) bool {
	ip := rec.IP()
	if ip == "" {
		log.Debug("ignoring record without an IP")
		return false
	}

	h, ok := a.hosts[ip]
	if !ok {
		h = &Host{IP: ip}
		a.hosts[ip] = h
	}
	h.Records = append(h.Records, rec)
	logForHost(ip).Debugf("port %d/%s (%d records)", rec.Port(), rec.Get("transport").String(), len(h.Records))
	a.total++

	return true
}

// Len is the number of distinct hosts.
func (a *HostAggregate) Len() int { return len(a.hosts) }

// Records is the number of records added.
func (a *HostAggregate) Records() int { return a.total }

// Hosts returns the hosts ordered by address (IPv4 before IPv6; unparsable addresses last, by
// string).
func (a *HostAggregate) Hosts() []*Host {
	out := make([]*Host, 0, len(a.hosts))
	for _, h := range a.hosts {
		out = append(out, h)
	}

	slices.SortFunc(out, func(x, y *Host) int {
		ax, errx := netip.ParseAddr(x.IP)
		ay, erry := netip.ParseAddr(y.IP)
		switch {
		case errx == nil && erry == nil:
			return ax.Compare(ay)
		case errx == nil:
			return -1
		case erry == nil:
			return 1
		}
		return cmp.Compare(x.IP, y.IP)
	})

	return out
}
