package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/censys-research/shodan-ng/pkg/sink"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	parseFormat     formatOpts
	parseFilterArgs []string
	parseFilename   string
	parseWorkers    = 0
)

var parseCmd = &cobra.Command{
	Use:   "parse <filenames...>",
	Short: "Extract information out of compressed JSON files",
	Args:  cobra.MinimumNArgs(1),
	Run:   runParse,
}

// parseBuffer is how many matching records a file may read ahead of the output.
const parseBuffer = 256

// readMatching decodes name and sends the records matching every filter to ch.
func readMatching(ctx context.Context, name string, filters [][2]string, ch chan<- record.Record) error {
	r, err := sink.OpenReader(name)
	if err != nil {
		return err
	}
	defer r.Close()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if !matchFilters(rec, filters) {
			continue
		}

		select {
		case ch <- rec:
			n++
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Debugf("%s: %d matching records", name, n)
	return nil
}

// parseFiles decodes every file, at most workers at a time, and hands the matching records to emit
// in argument order as soon as they are read. Files are started in argument order so the one being
// emitted always holds a worker slot.
func parseFiles(ctx context.Context, names []string, filters [][2]string, workers int, emit func(record.Record) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chans := make([]chan record.Record, len(names))
	for i := range chans {
		chans[i] = make(chan record.Record, parseBuffer)
	}
	sem := make(chan struct{}, max(workers, 1))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for i, name := range names {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}

			g.Go(func() error {
				defer func() { <-sem }()
				defer close(chans[i])

				if err := readMatching(gctx, name, filters, chans[i]); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				return nil
			})
		}
		return nil
	})

	for _, ch := range chans {
		if err := drain(gctx, ch, emit); err != nil {
			cancel()
			if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
				return werr
			}
			return err
		}
	}

	return g.Wait()
}

// drain passes every record of ch to emit until ch is closed.
func drain(ctx context.Context, ch <-chan record.Record, emit func(record.Record) error) error {
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			if err := emit(rec); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runParse(cmd *cobra.Command, args []string) {
	ctx, stop := signalContext()
	defer stop()

	conf := loadConfig()
	fields, sep, err := parseFormat.resolve(conf)
	if err != nil {
		log.Fatal(err)
	}

	filters, err := parseFilters(parseFilterArgs)
	if err != nil {
		log.Fatal(err)
	}

	workers := parseWorkers
	if workers <= 0 {
		workers = conf.GetWorkers()
	}

	var out *sink.File
	if parseFilename != "" {
		out, err = sink.Create(parseFilename, conf.GetCompressLevel())
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	colorize := useColor(os.Stdout)
	emit := func(rec record.Record) error {
		if out != nil {
			if err := out.Write(rec); err != nil {
				return fmt.Errorf("error saving record: %w", err)
			}
		}
		fmt.Println(record.Format(rec, fields, sep, colorize))
		return nil
	}

	if err := parseFiles(ctx, args, filters, workers, emit); err != nil {
		if out != nil {
			out.Close()
		}
		log.Fatalf("error parsing: %v", err)
	}

	if out != nil {
		if err := out.Close(); err != nil {
			log.Fatalf("error: %v", err)
		}
		fmt.Fprintf(os.Stderr, "Saved %d results into file %s\n", out.Count(), out.Name())
	}
}

func init() {
	rootCmd.AddCommand(parseCmd)

	parseFormat.register(parseCmd, record.DefaultFields)
	parseCmd.Flags().StringSliceVar(&parseFilterArgs, "filters", nil, "Filter the results for specific values using key:value pairs")
	parseCmd.Flags().StringVarP(&parseFilename, "filename", "O", "", "Save the filtered results in the given file")
	parseCmd.Flags().IntVar(&parseWorkers, "workers", parseWorkers, "Number of files decoded in parallel (default: config workers)")
}
