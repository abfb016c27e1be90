package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/config"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/sink"
	"github.com/censys-research/shodan-ng/pkg/stream"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	streamFormat        formatOpts
	streamLimit         = -1
	streamPorts         string
	streamAlert         string
	streamASN           string
	streamCountries     string
	streamTags          string
	streamVulns         string
	streamCustomFilters string
	streamDatadir       string
	streamQuiet         = false
	streamTimeout       time.Duration
	streamCompressLevel = 0
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream data in real-time",
	Args:  cobra.NoArgs,
	Run:   runStream,
}

// streamSelection is the feed picked by the stream flags. At most one selector may be set.
type streamSelection struct {
	ports  []int
	alert  string
	filter *api.StreamFilter
}

func (s streamSelection) String() string {
	switch {
	case len(s.ports) > 0:
		return fmt.Sprintf("ports:%v", s.ports)
	case s.alert != "":
		return "alert:" + s.alert
	case s.filter != nil:
		return s.filter.String()
	}
	return "banners"
}

// opener returns the function (re)opening the selected feed.
func (s streamSelection) opener(client api.Streamer, timeout time.Duration) stream.Opener {
	return func(ctx context.Context) (api.Feed, error) {
		switch {
		case len(s.ports) > 0:
			return client.StreamByPorts(ctx, s.ports, timeout)
		case s.alert != "":
			return client.StreamByAlert(ctx, s.alert, timeout)
		case s.filter != nil:
			return client.StreamFiltered(ctx, *s.filter, timeout)
		}
		return client.StreamBanners(ctx, timeout)
	}
}

// selectStream validates the feed selector flags.
func selectStream() (streamSelection, error) {
	var sel streamSelection
	set := 0

	if streamPorts != "" {
		ports, err := parsePorts(streamPorts)
		if err != nil {
			return sel, err
		}
		sel.ports = ports
		set++
	}

	if streamAlert != "" {
		sel.alert = strings.TrimSpace(streamAlert)
		set++
	}

	filters := []struct {
		kind  api.StreamFilterKind
		value string
	}{
		{api.FilterASN, streamASN},
		{api.FilterCountries, streamCountries},
		{api.FilterTags, streamTags},
		{api.FilterVulns, streamVulns},
	}
	for _, f := range filters {
		if f.value == "" {
			continue
		}
		values := parseValueList(f.value)
		if len(values) == 0 {
			return sel, fmt.Errorf("invalid list of %s: %q", f.kind, f.value)
		}
		if f.kind == api.FilterCountries {
			for i := range values {
				values[i] = strings.ToUpper(values[i])
			}
		}
		sel.filter = &api.StreamFilter{Kind: f.kind, Values: values}
		set++
	}

	if q := strings.TrimSpace(streamCustomFilters); q != "" {
		sel.filter = &api.StreamFilter{Kind: api.FilterCustom, Values: []string{q}}
		set++
	}

	if set > 1 {
		return sel, fmt.Errorf("only one of --ports, --alert, --asn, --countries, --tags, --vulns or --custom-filters may be given")
	}

	return sel, nil
}

func runStream(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	sel, err := selectStream()
	if err != nil {
		log.Fatal(err)
	}

	if err := validateLimit(max(streamLimit, 0), 0); err != nil {
		log.Fatal(err)
	}

	conf := loadConfig()
	fields, sep, err := streamFormat.resolve(conf)
	if err != nil {
		log.Fatal(err)
	}

	timeout := conf.GetStreamTimeout()
	if cmd.Flags().Changed("timeout") {
		timeout = streamTimeout
	}

	level := conf.GetCompressLevel()
	if streamCompressLevel != 0 {
		level = streamCompressLevel
	}

	var out *sink.Rotating
	if streamDatadir != "" {
		out = sink.NewRotating(streamDatadir, sink.WithCompressLevel(level))
		defer func() {
			if err := out.Close(); err != nil {
				log.WithError(err).Warnf("error closing %s", out.Current())
			}
		}()
	}

	colorize := useColor(os.Stdout)
	handle := func(rec record.Record) error {
		if out != nil {
			if err := out.Write(rec); err != nil {
				return fmt.Errorf("error saving record: %w", err)
			}
		}
		if !streamQuiet {
			fmt.Println(record.Format(rec, fields, sep, colorize))
		}
		return nil
	}

	consumer := stream.New(sel.opener(newClient(conf), timeout), handle, streamOptions(sel, conf, timeout)...)

	log.Infof("streaming %s", sel)
	res, err := consumer.Run(ctx)
	if err != nil {
		log.Fatalf("error after %d records: %v", res.Count, err)
	}

	log.Infof("stream ended (%s) after %d records, %d reconnects", res.Reason, res.Count, res.Reconnects)
}

// streamOptions builds the consumer options. With an idle timeout, the server closing the feed ends
// the stream; other failures still reconnect.
func streamOptions(sel streamSelection, conf *config.Config, timeout time.Duration) []stream.Option {
	opts := []stream.Option{
		stream.WithName(sel.String()),
		stream.WithLimit(streamLimit),
		stream.WithBackoff(conf.GetReconnectBackoff()),
	}

	if timeout > 0 {
		opts = append(opts, stream.WithTerminated(func(_ context.Context, err error) bool {
			return errors.Is(err, api.ErrFeedClosed)
		}))
	}

	return opts
}

func init() {
	rootCmd.AddCommand(streamCmd)

	streamFormat.register(streamCmd, record.DefaultFields)
	streamCmd.Flags().IntVar(&streamLimit, "limit", streamLimit, "The number of results you want to download, -1 streams forever")
	streamCmd.Flags().StringVar(&streamPorts, "ports", "", "A comma-separated list of ports to grab data on")
	streamCmd.Flags().StringVar(&streamAlert, "alert", "", "The network alert ID to stream (or \"all\")")
	streamCmd.Flags().StringVar(&streamASN, "asn", "", "A comma-separated list of ASNs to grab data on")
	streamCmd.Flags().StringVar(&streamCountries, "countries", "", "A comma-separated list of countries to grab data on")
	streamCmd.Flags().StringVar(&streamTags, "tags", "", "A comma-separated list of tags to grab data on")
	streamCmd.Flags().StringVar(&streamVulns, "vulns", "", "A comma-separated list of vulnerabilities to grab data on")
	streamCmd.Flags().StringVar(&streamCustomFilters, "custom-filters", "", "A space-separated list of filters query to grab data on")
	streamCmd.Flags().StringVar(&streamDatadir, "datadir", "", "Save the stream data into the specified directory as .json.gz files")
	streamCmd.Flags().BoolVar(&streamQuiet, "quiet", false, "Disable the printing of information to the screen")
	streamCmd.Flags().DurationVar(&streamTimeout, "timeout", 0, "Stop the stream after this much idle time (default: config stream_timeout, 0 never)")
	streamCmd.Flags().IntVar(&streamCompressLevel, "compresslevel", 0, "The gzip compression level (1-9, default: config compress_level)")
}
