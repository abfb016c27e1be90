package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/config"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/report"
	"github.com/censys-research/shodan-ng/pkg/scan"
	"github.com/censys-research/shodan-ng/pkg/sink"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	scanQuiet    = false
	scanWait     = 20 * time.Minute
	scanForce    = false
	scanFile     string
	scanFilename string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an IP/ netblock using Shodan",
}

var scanInternetCmd = &cobra.Command{
	Use:   "internet <port> <protocol>",
	Short: "Scan the Internet for a specific port and protocol using the Shodan infrastructure",
	Args:  cobra.ExactArgs(2),
	Run:   runScanInternet,
}

var scanProtocolsCmd = &cobra.Command{
	Use:   "protocols",
	Short: "List the protocols that you can scan with using Shodan",
	Args:  cobra.NoArgs,
	Run:   runScanProtocols,
}

var scanSubmitCmd = &cobra.Command{
	Use:   "submit <netblocks...>",
	Short: "Scan an IP/ netblock using Shodan",
	Args:  cobra.ArbitraryArgs,
	Run:   runScanSubmit,
}

var scanStatusCmd = &cobra.Command{
	Use:   "status <scan id>",
	Short: "Check the status of an on-demand scan",
	Args:  cobra.ExactArgs(1),
	Run:   runScanStatus,
}

var scanListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show recently launched scans",
	Args:  cobra.NoArgs,
	Run:   runScanList,
}

// newOrchestrator wires the scan orchestrator to the configured client and tuning knobs.
func newOrchestrator(conf *config.Config, statuscb scan.StatusCallback) *scan.Orchestrator {
	return scan.New(newClient(conf),
		scan.WithPollEvery(conf.GetStatusPollEvery()),
		scan.WithPollInterval(conf.GetStatusPollInterval()),
		scan.WithFeedTimeout(conf.GetScanFeedTimeout()),
		scan.WithBackoff(conf.GetReconnectBackoff()),
		scan.WithStatusCallback(statuscb),
	)
}

// parseScanPort validates the port argument of an internet scan.
func parseScanPort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("invalid port: %q", s)
	}
	return port, nil
}

func runScanInternet(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	port, err := parseScanPort(args[0])
	if err != nil {
		log.Fatal(err)
	}

	protocol := strings.TrimSpace(args[1])
	if protocol == "" {
		log.Fatal("empty protocol")
	}

	conf := loadConfig()

	name := scanFilename
	if name == "" {
		name = scan.InternetFilename(port, protocol)
	}

	out, err := sink.Create(name, conf.GetCompressLevel())
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	var onRecord scan.RecordCallback
	if !scanQuiet {
		onRecord = func(rec record.Record) error {
			fmt.Println(report.InternetLine(rec))
			return nil
		}
	}

	o := newOrchestrator(conf, func(message string) { log.Info(message) })
	res, err := o.Internet(ctx, port, protocol, out, onRecord)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	log.Infof("scan %s ended: %v", res.Job.GetID(), res.Phases)
	newReporter(os.Stdout).ScanFinished(res.Stream.Count)
}

func runScanProtocols(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	protocols, err := newClient(loadConfig()).Protocols(ctx)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Protocols(protocols)
}

// scanTargets joins the netblock arguments and the --file list.
func scanTargets(args []string) ([]string, error) {
	targets := parseIPList(strings.Join(args, "\n"))

	if scanFile != "" {
		fromFile, err := readIPsFromFile(scanFile)
		if err != nil {
			return nil, err
		}
		targets = append(targets, fromFile...)
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("no netblocks given")
	}
	return targets, nil
}

func runScanSubmit(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	targets, err := scanTargets(args)
	if err != nil {
		log.Fatal(err)
	}

	conf := loadConfig()
	statuscb, stopSpinner := statusSpinner()
	o := newOrchestrator(conf, statuscb)

	res, err := o.Submit(ctx, targets, scan.SubmitOptions{Wait: scanWait, Force: scanForce}, nil)
	stopSpinner()
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	r := newReporter(os.Stdout)
	r.Job(res.Job)

	if scanWait <= 0 {
		return
	}

	switch res.Phases.Outcome() {
	case scan.TimedOut:
		log.Warnf("scan %s still running after %s, showing partial results", res.Job.GetID(), scanWait)
	case scan.Interrupted:
		log.Warnf("interrupted, showing partial results of scan %s", res.Job.GetID())
	}

	r.ScanSummary(res.Hosts.Hosts())
}

func runScanStatus(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	id := strings.TrimSpace(args[0])
	if id == "" {
		log.Fatal("empty scan id")
	}

	job, err := newClient(loadConfig()).ScanStatus(ctx, id)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Job(job)
}

func runScanList(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	jobs, err := newClient(loadConfig()).Scans(ctx)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Scans(jobs)
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.AddCommand(scanInternetCmd, scanProtocolsCmd, scanSubmitCmd, scanStatusCmd, scanListCmd)

	scanInternetCmd.Flags().BoolVar(&scanQuiet, "quiet", false, "Disable the printing of information to the screen")
	scanInternetCmd.Flags().StringVarP(&scanFilename, "filename", "O", "", "Save the results in the given file (default: <port>-<protocol>.json.gz)")

	scanSubmitCmd.Flags().DurationVar(&scanWait, "wait", scanWait, "How long to wait for results to come back, 0 only submits the scan")
	scanSubmitCmd.Flags().BoolVar(&scanForce, "force", false, "Force Shodan to re-scan the provided IPs")
	scanSubmitCmd.Flags().StringVarP(&scanFile, "file", "f", "", "File containing netblocks, one per line or comma-separated")
}
