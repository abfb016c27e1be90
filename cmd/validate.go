package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/config"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/spf13/cobra"
)

// searchLimitCap is the most results an interactive search may ask for.
const searchLimitCap = 1000

// formatOpts are the row-formatting flags shared by search, parse and stream.
type formatOpts struct {
	cmd       *cobra.Command
	fields    []string
	separator string
}

func (o *formatOpts) register(cmd *cobra.Command, defaults []string) {
	o.cmd = cmd
	cmd.Flags().StringSliceVar(&o.fields, "fields", defaults, "List of properties to output")
	cmd.Flags().StringVar(&o.separator, "separator", record.DefaultSeparator, "The separator between the properties of the search results")
}

// resolve returns the cleaned field list and the separator with escape sequences (\t, \n)
// interpreted. Fields and separator set in conf replace the command defaults unless the flags were
// given.
func (o *formatOpts) resolve(conf *config.Config) ([]string, string, error) {
	in, sep := o.fields, o.separator
	if conf != nil && o.cmd != nil {
		if !o.cmd.Flags().Changed("fields") && len(conf.Fields) > 0 {
			in = conf.Fields
		}
		if !o.cmd.Flags().Changed("separator") && conf.Separator != "" {
			sep = conf.Separator
		}
	}

	fields, err := parseFields(in)
	if err != nil {
		return nil, "", err
	}

	if unq, err := strconv.Unquote(`"` + sep + `"`); err == nil {
		sep = unq
	}

	return fields, sep, nil
}

func validateQuery(args []string) (string, error) {
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", fmt.Errorf("empty search query")
	}
	return q, nil
}

func validateLimit(limit, ceiling int) error {
	if limit < 0 {
		return fmt.Errorf("invalid limit: %d", limit)
	}
	if ceiling > 0 && limit > ceiling {
		return fmt.Errorf("too many results requested, maximum is %d", ceiling)
	}
	return nil
}

func parseFields(in []string) ([]string, error) {
	var fields []string
	for _, f := range in {
		for _, part := range strings.Split(f, ",") {
			if part = strings.TrimSpace(part); part != "" {
				fields = append(fields, part)
			}
		}
	}

	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields given")
	}
	return fields, nil
}

// parsePorts parses a comma-separated port list ("80,443, 8080").
func parsePorts(s string) ([]int, error) {
	var ports []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		p, err := strconv.Atoi(part)
		if err != nil || p <= 0 || p > 65535 {
			return nil, fmt.Errorf("invalid port: %q", part)
		}
		ports = append(ports, p)
	}

	if len(ports) == 0 {
		return nil, fmt.Errorf("invalid list of ports: %q", s)
	}
	return ports, nil
}

// parseFilters parses field:value pairs. The value may itself contain colons.
func parseFilters(in []string) ([][2]string, error) {
	var out [][2]string
	for _, f := range in {
		field, value, ok := strings.Cut(f, ":")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field:value", f)
		}
		out = append(out, [2]string{field, value})
	}
	return out, nil
}

// matchFilters reports whether every filter's field, rendered like an output column, contains its
// value.
func matchFilters(rec record.Record, filters [][2]string) bool {
	for _, f := range filters {
		if !strings.Contains(record.Value(rec, f[0]), f[1]) {
			return false
		}
	}
	return true
}

// parseValueList splits a comma-separated flag value, dropping blanks.
func parseValueList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
