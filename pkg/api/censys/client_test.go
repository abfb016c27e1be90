package censys

import (
	"testing"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const hostDoc = `{
	"ip": "198.51.100.7",
	"location": {"country": "Belgium", "city": "Ghent", "country_code": "BE"},
	"autonomous_system": {"asn": 64500, "name": "EXAMPLE-NET"},
	"operating_system": {"product": "Linux"},
	"dns": {"names": ["www.example.test"], "reverse_dns": {"names": ["host7.example.test"]}},
	"services": [
		{"port": 22, "transport_protocol": "TCP", "protocol": "SSH", "banner": "SSH-2.0-OpenSSH_9.6\r\n",
		 "software": [{"product": "openssh", "version": "9.6"}]},
		{"port": 443, "transport_protocol": "TCP", "protocol": "HTTP", "banner": "HTTP/1.1 200 OK"}
	]
}`

func TestHostRecords(t *testing.T) {
	recs := HostRecords(gjson.Parse(hostDoc))
	require.Len(t, recs, 2)

	ssh := recs[0]
	assert.Equal(t, "198.51.100.7", ssh.IP())
	assert.Equal(t, 22, ssh.Port())
	assert.Equal(t, "tcp", ssh.Get("transport").String())
	assert.Equal(t, "openssh", ssh.Get("product").String())
	assert.Equal(t, "9.6", ssh.Get("version").String())
	assert.Equal(t, "EXAMPLE-NET", ssh.Get("org").String())
	assert.Equal(t, "AS64500", ssh.Get("asn").String())
	assert.Equal(t, "Linux", ssh.Get("os").String())
	assert.Equal(t, "Ghent", ssh.Get("location.city").String())
	assert.Equal(t, []string{"www.example.test", "host7.example.test"}, ssh.Hostnames())

	row := record.Format(ssh, record.DefaultFields, "\t", false)
	assert.Equal(t, "198.51.100.7\t22\twww.example.test;host7.example.test\tSSH-2.0-OpenSSH_9.6\\r\\n\t", row)

	assert.Equal(t, 443, recs[1].Port())
	assert.False(t, recs[1].Get("product").Exists())
}

func TestHostRecords_NoServices(t *testing.T) {
	recs := HostRecords(gjson.Parse(`{"ip":"203.0.113.1","autonomous_system":{"name":"X"}}`))
	require.Len(t, recs, 1)
	assert.Equal(t, "203.0.113.1", recs[0].IP())
	assert.Equal(t, 0, recs[0].Port())
}

func TestHostRecords_NoIP(t *testing.T) {
	assert.Empty(t, HostRecords(gjson.Parse(`{"services":[{"port":80}]}`)))
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New("", "org")
	assert.ErrorIs(t, err, api.ErrNoAPIKey)

	c, err := New("token", "org")
	require.NoError(t, err)

	_, err = c.StreamBanners(t.Context(), 0)
	assert.ErrorIs(t, err, api.ErrUnsupported)
}
