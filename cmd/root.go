package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/api/censys"
	"github.com/censys-research/shodan-ng/pkg/api/shodan"
	"github.com/censys-research/shodan-ng/pkg/cache"
	"github.com/censys-research/shodan-ng/pkg/config"
	"github.com/censys-research/shodan-ng/pkg/report"
	"github.com/gookit/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shodan-ng",
	Short: "search, scan and stream the internet from your terminal",
}

var (
	logLevel       string
	configFile     = ""
	provider       = ""
	organizationId string
	cacheDuration  = config.DefaultCacheDuration // how long count/stats answers stay cached
	forceColor     = false                       // colorize even when stdout isn't a terminal
	noColors       = false                       // don't display colored output
	noLinks        = false                       // don't display hyperlinks in the output
)

// loadConfig reads the config file once, then layers the global flags on top.
func loadConfig() *config.Config {
	conf, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	if provider != "" {
		conf.Provider = provider
	}

	if organizationId != "" {
		conf.OrganizationID = organizationId
	}

	if rootCmd.PersistentFlags().Changed("cache-duration") {
		conf.CacheDuration = cacheDuration
	}

	return conf
}

// newClient builds the backend selected by the config. Count answers are cached under the workdir.
func newClient(conf *config.Config) api.Client {
	var (
		client api.Client
		err    error
	)

	switch conf.GetProvider() {
	case config.ProviderShodan:
		client, err = shodan.New(conf.GetAPIKey())
	case config.ProviderCensys:
		client, err = censys.New(conf.GetAPIKey(), conf.GetOrganizationID())
	default:
		log.Fatalf("unknown provider %q (shodan, censys)", conf.GetProvider())
	}
	if err != nil {
		log.Fatalf("error creating %s client: %v", conf.GetProvider(), err)
	}

	cm, err := cache.NewManager(conf.CacheDir(), conf.GetCacheDuration())
	if err != nil {
		log.Warnf("caching disabled: %v", err)
	}

	scope := strings.Join([]string{conf.GetProvider(), conf.GetAPIKey(), conf.GetOrganizationID()}, "|")
	return api.Cached(client, scope, cm)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// useColor decides whether rows written to w get colors.
func useColor(w io.Writer) bool {
	switch {
	case noColors:
		return false
	case forceColor:
		color.ForceColor()
		return true
	}
	return report.IsTTY(w)
}

func newReporter(w io.Writer) *report.Reporter {
	var ropt []string

	if noColors {
		ropt = append(ropt, "no-colors")
	} else if forceColor {
		ropt = append(ropt, "colors")
	}

	if noLinks {
		ropt = append(ropt, "no-links")
	}

	return report.NewReporter(w, ropt...)
}

// statusSpinner returns a status callback driving a spinner on stderr, and a function stopping it.
// Nothing is drawn when stderr is not a terminal.
func statusSpinner() (func(string), func()) {
	if !report.IsTTY(os.Stderr) {
		return func(message string) { log.Info(message) }, func() {}
	}

	// i like the charsets[21] spinner characters...
	s := spinner.New(spinner.CharSets[21], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	statuscb := func(message string) {
		s.Suffix = " " + message
		if !s.Active() {
			s.Start()
		}
	}

	stopSpinner := func() {
		if s.Active() {
			s.Stop()
		}
	}

	return statuscb, stopSpinner
}

// re-fang (de-defang? undefang? whatever.) input hosts.
func parseIP(s string) string {
	replacements := []string{"[.]", ".]", "[."}
	remove := []string{`"`, ",", "\\'"}

	for _, r := range replacements {
		s = strings.ReplaceAll(s, r, ".")
	}
	for _, r := range remove {
		s = strings.ReplaceAll(s, r, "")
	}

	return strings.TrimSpace(s)
}

// parseIPList parses a string containing multiple IPs or netblocks separated by commas or newlines
func parseIPList(input string) []string {
	var ips []string

	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		for _, part := range strings.Split(line, ",") {
			if clean := parseIP(part); clean != "" {
				ips = append(ips, clean)
			}
		}
	}

	return ips
}

// readIPsFromFile reads IPs from a file, supporting both line-separated and comma-separated formats
func readIPsFromFile(filename string) ([]string, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading file %s: %w", filename, err)
	}

	return parseIPList(string(content)), nil
}

func initLogging() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		PadLevelText:  true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return f.Function + ": ", fmt.Sprintf("%s:%d", f.File, f.Line)
		},
	})

	switch logLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "fatal":
		log.SetLevel(log.FatalLevel)
	case "panic":
		log.SetLevel(log.PanicLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
}

func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "", "Log level (debug, info, warn*, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file (default: ~/.shodan-ng/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "P", "", "Backend to use (shodan*, censys)")
	rootCmd.PersistentFlags().StringVar(&organizationId, "org", "", "Organization ID (censys provider)")
	rootCmd.PersistentFlags().DurationVarP(&cacheDuration, "cache-duration", "C", cacheDuration, "How long count and stats answers stay cached, 0 disables the cache")
	rootCmd.PersistentFlags().BoolVar(&forceColor, "color", false, "Force colored output")
	rootCmd.PersistentFlags().BoolVar(&noColors, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&noLinks, "no-link", false, "Disable hyperlinks in output")

	rootCmd.MarkFlagsMutuallyExclusive("color", "no-color")

	cobra.OnInitialize(initLogging)
}
