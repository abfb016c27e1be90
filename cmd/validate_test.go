package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/censys-research/shodan-ng/pkg/config"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePorts(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{"single", "80", []int{80}, false},
		{"list with spaces", "80, 443 ,8080", []int{80, 443, 8080}, false},
		{"trailing comma", "22,", []int{22}, false},
		{"not a number", "80,http", nil, true},
		{"zero", "0", nil, true},
		{"too large", "65536", nil, true},
		{"empty", " , ", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePorts(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"port:80", "data:Server: nginx", " org :Example"})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"port", "80"}, {"data", "Server: nginx"}, {"org", "Example"}}, got)

	_, err = parseFilters([]string{"port"})
	assert.Error(t, err)

	_, err = parseFilters([]string{":80"})
	assert.Error(t, err)
}

func TestMatchFilters(t *testing.T) {
	rec := record.MustParse(`{"ip_str":"192.0.2.1","port":8080,"hostnames":["a.test","b.test"],"location":{"country_code":"DE"}}`)

	tests := []struct {
		name    string
		filters [][2]string
		want    bool
	}{
		{"no filters", nil, true},
		{"substring of number", [][2]string{{"port", "80"}}, true},
		{"joined list", [][2]string{{"hostnames", "a.test;b"}}, true},
		{"dotted path", [][2]string{{"location.country_code", "DE"}}, true},
		{"all must match", [][2]string{{"port", "8080"}, {"ip_str", "198."}}, false},
		{"missing field", [][2]string{{"org", "x"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchFilters(rec, tt.filters))
		})
	}
}

func TestValidateQuery(t *testing.T) {
	q, err := validateQuery([]string{" apache", "country:DE "})
	require.NoError(t, err)
	assert.Equal(t, "apache country:DE", q)

	_, err = validateQuery(nil)
	assert.Error(t, err)

	_, err = validateQuery([]string{" ", ""})
	assert.Error(t, err)
}

func TestValidateLimit(t *testing.T) {
	assert.NoError(t, validateLimit(0, searchLimitCap))
	assert.NoError(t, validateLimit(searchLimitCap, searchLimitCap))
	assert.Error(t, validateLimit(searchLimitCap+1, searchLimitCap))
	assert.Error(t, validateLimit(-1, 0))
	assert.NoError(t, validateLimit(1_000_000, 0))
}

func TestParseFields(t *testing.T) {
	got, err := parseFields([]string{"ip_str, port", "", "data,ip_str"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ip_str", "port", "data", "ip_str"}, got)

	_, err = parseFields([]string{" , "})
	assert.Error(t, err)
}

func TestFormatOpts_Resolve(t *testing.T) {
	newOpts := func(args ...string) *formatOpts {
		cmd := &cobra.Command{Use: "test"}
		o := &formatOpts{}
		o.register(cmd, []string{"ip_str", "port"})
		require.NoError(t, cmd.Flags().Parse(args))
		return o
	}

	t.Run("defaults", func(t *testing.T) {
		fields, sep, err := newOpts().resolve(nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"ip_str", "port"}, fields)
		assert.Equal(t, "\t", sep)
	})

	t.Run("escaped separator", func(t *testing.T) {
		_, sep, err := newOpts(`--separator=\t|`).resolve(nil)
		require.NoError(t, err)
		assert.Equal(t, "\t|", sep)
	})

	t.Run("literal separator", func(t *testing.T) {
		_, sep, err := newOpts("--separator=,").resolve(nil)
		require.NoError(t, err)
		assert.Equal(t, ",", sep)
	})

	t.Run("config replaces defaults", func(t *testing.T) {
		conf := config.NewConfig(config.WithFields([]string{"org"}), config.WithSeparator(";"))
		fields, sep, err := newOpts().resolve(conf)
		require.NoError(t, err)
		assert.Equal(t, []string{"org"}, fields)
		assert.Equal(t, ";", sep)
	})

	t.Run("flags beat config", func(t *testing.T) {
		conf := config.NewConfig(config.WithFields([]string{"org"}), config.WithSeparator(";"))
		fields, sep, err := newOpts("--fields=data", "--separator=|").resolve(conf)
		require.NoError(t, err)
		assert.Equal(t, []string{"data"}, fields)
		assert.Equal(t, "|", sep)
	})
}

func TestParseIPList(t *testing.T) {
	in := "192.0.2[.]1, 198.51.100.0/24\n\n\"203.0.113.5\",\n  10.0.0[.]1  "
	assert.Equal(t, []string{"192.0.2.1", "198.51.100.0/24", "203.0.113.5", "10.0.0.1"}, parseIPList(in))
	assert.Empty(t, parseIPList(" \n , "))
}

func TestReadIPsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte("192.0.2.1\n192.0.2.2,192.0.2.3\n"), 0o644))

	got, err := readIPsFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}, got)

	_, err = readIPsFromFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseValueList(t *testing.T) {
	assert.Equal(t, []string{"de", "us"}, parseValueList(" de,, us ,"))
	assert.Nil(t, parseValueList(" , "))
}
