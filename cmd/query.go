package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/api"
	"github.com/censys-research/shodan-ng/pkg/config"
	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/sink"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	searchFormat  formatOpts
	searchLimit   = 100
	searchPage    = 1
	downloadLimit = 1000
	statsFacets   = "org,domain,port,asn,country"
	statsLimit    = 10
)

var initCmd = &cobra.Command{
	Use:   "init <api key>",
	Short: "Initialize the client with your API key",
	Args:  cobra.ExactArgs(1),
	Run:   runInit,
}

var countCmd = &cobra.Command{
	Use:   "count <search query>",
	Short: "Returns the number of results for a search",
	Args:  cobra.ArbitraryArgs,
	Run:   runCount,
}

var searchCmd = &cobra.Command{
	Use:   "search <search query>",
	Short: "Search the database",
	Args:  cobra.ArbitraryArgs,
	Run:   runSearch,
}

var downloadCmd = &cobra.Command{
	Use:   "download <filename> <search query>",
	Short: "Download search results and save them in a compressed JSON file",
	Args:  cobra.MinimumNArgs(1),
	Run:   runDownload,
}

var statsCmd = &cobra.Command{
	Use:   "stats <search query>",
	Short: "Provide summary information about a search query",
	Args:  cobra.ArbitraryArgs,
	Run:   runStats,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Shows general information about your account",
	Args:  cobra.NoArgs,
	Run:   runInfo,
}

var myipCmd = &cobra.Command{
	Use:   "myip",
	Short: "Print your external IP address",
	Args:  cobra.NoArgs,
	Run:   runMyIP,
}

func runInit(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	key := strings.TrimSpace(args[0])
	if key == "" {
		log.Fatalf("empty API key")
	}

	conf := loadConfig()
	conf.APIKey = key

	if conf.GetProvider() == config.ProviderShodan {
		if _, err := newClient(conf).Info(ctx); err != nil {
			log.Fatalf("error initializing API, please check your API key: %v", err)
		}
	}

	path := configFile
	if path == "" {
		path = config.DefaultPath()
	}

	if err := conf.Save(path); err != nil {
		log.Fatalf("error saving API key: %v", err)
	}

	fmt.Printf("Successfully initialized (config written to %s)\n", path)
}

func runCount(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	query, err := validateQuery(args)
	if err != nil {
		log.Fatal(err)
	}

	res, err := newClient(loadConfig()).Count(ctx, query, nil)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Count(res.Total)
}

func runSearch(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	query, err := validateQuery(args)
	if err != nil {
		log.Fatal(err)
	}

	if err := validateLimit(searchLimit, searchLimitCap); err != nil {
		log.Fatal(err)
	}

	conf := loadConfig()
	fields, sep, err := searchFormat.resolve(conf)
	if err != nil {
		log.Fatal(err)
	}

	res, err := newClient(conf).Search(ctx, query, api.SearchOptions{Page: searchPage, Limit: searchLimit, Minify: true})
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	colorize := useColor(os.Stdout)
	for _, rec := range res.Matches {
		fmt.Println(record.Format(rec, fields, sep, colorize))
	}

	log.Infof("%d of %d results shown", len(res.Matches), res.Total)
}

func runDownload(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	filename := strings.TrimSpace(args[0])
	if filename == "" {
		log.Fatal("empty filename")
	}

	query, err := validateQuery(args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if err := validateLimit(downloadLimit, 0); err != nil {
		log.Fatal(err)
	}

	conf := loadConfig()
	client := newClient(conf)

	res, err := client.Count(ctx, query, nil)
	if err != nil {
		log.Fatalf("error: %v", err)
	}
	if res.Total == 0 {
		log.Fatal("No results found")
	}

	limit := int(min(res.Total, int64(downloadLimit)))
	if downloadLimit == 0 {
		limit = int(res.Total)
	}

	out, err := sink.Create(filename, conf.GetCompressLevel())
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	statuscb, stopSpinner := statusSpinner()
	statuscb(fmt.Sprintf("downloading %d of %d results to %s", limit, res.Total, out.Name()))

	n, err := download(ctx, client, query, out, limit, func(n int) {
		statuscb(fmt.Sprintf("downloading %s: %d/%d", out.Name(), n, limit))
	})
	stopSpinner()

	if cerr := out.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalf("error after %d results: %v", n, err)
	}

	fmt.Fprintf(os.Stderr, "Saved %d results into file %s\n", n, out.Name())
}

// download copies up to limit cursor results into out, reporting progress every page.
func download(ctx context.Context, client api.Searcher, query string, out sink.Writer, limit int, progress func(int)) (int, error) {
	cur, err := client.SearchCursor(ctx, query, api.SearchOptions{})
	if err != nil {
		return 0, err
	}

	n := 0
	for n < limit {
		rec, err := cur.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, err
		}

		if err := out.Write(rec); err != nil {
			return n, err
		}
		n++

		if progress != nil && n%100 == 0 {
			progress(n)
		}
	}

	return n, nil
}

func runStats(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	query, err := validateQuery(args)
	if err != nil {
		log.Fatal(err)
	}

	var facets []string
	for _, f := range parseValueList(statsFacets) {
		facets = append(facets, api.FormatFacet(f, statsLimit))
	}
	if len(facets) == 0 {
		log.Fatal("no facets given")
	}

	res, err := newClient(loadConfig()).Count(ctx, query, facets)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Facets(query, res.Total, res.Facets, facets)
}

func runInfo(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	acct, err := newClient(loadConfig()).Info(ctx)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	newReporter(os.Stdout).Account(acct)
}

func runMyIP(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	ip, err := newClient(loadConfig()).MyIP(ctx)
	if err != nil {
		log.Fatalf("error: %v", err)
	}

	fmt.Fprintln(os.Stdout, ip)
}

func init() {
	rootCmd.AddCommand(initCmd, countCmd, searchCmd, downloadCmd, statsCmd, infoCmd, myipCmd)

	searchFormat.register(searchCmd, []string{"ip_str", "port", "org", "hostnames"})
	searchCmd.Flags().IntVar(&searchLimit, "limit", searchLimit, "The number of search results that should be returned (maximum 1000)")
	searchCmd.Flags().IntVar(&searchPage, "page", searchPage, "The page number to start from")

	downloadCmd.Flags().IntVar(&downloadLimit, "limit", downloadLimit, "The number of results you want to download, 0 downloads everything")

	statsCmd.Flags().StringVar(&statsFacets, "facets", statsFacets, "List of facets to get statistics for")
	statsCmd.Flags().IntVar(&statsLimit, "limit", statsLimit, "The number of results to return per facet")
}
