// Package sink persists records as gzip-compressed newline-delimited JSON.
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
)

// Extension is appended to every file written by this package.
const Extension = ".json.gz"

// DefaultCompressLevel matches gzip -9.
const DefaultCompressLevel = gzip.BestCompression

// Writer is anything records can be persisted to.
type Writer interface {
	Write(rec record.Record) error
	Close() error
}

// gzFile is one open output file. Every record is flushed through the compressor so a killed
// process leaves a readable file behind.
type gzFile struct {
	path string
	f    *os.File
	gz   *gzip.Writer
}

func openGz(path string, flag int, level int) (*gzFile, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(path, flag|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}

	return &gzFile{path: path, f: f, gz: gz}, nil
}

// write appends rec as one line. Zero records are skipped and reported as not written.
func (g *gzFile) write(rec record.Record) (bool, error) {
	data := rec.Bytes()
	if len(data) == 0 {
		return false, nil
	}

	if _, err := g.gz.Write(data); err != nil {
		return false, fmt.Errorf("write %s: %w", g.path, err)
	}
	if _, err := g.gz.Write([]byte{'\n'}); err != nil {
		return false, fmt.Errorf("write %s: %w", g.path, err)
	}
	if err := g.gz.Flush(); err != nil {
		return false, fmt.Errorf("flush %s: %w", g.path, err)
	}
	return true, nil
}

func (g *gzFile) close() error {
	gzErr := g.gz.Close()
	fErr := g.f.Close()
	if gzErr != nil {
		return fmt.Errorf("close %s: %w", g.path, gzErr)
	}
	if fErr != nil {
		return fmt.Errorf("close %s: %w", g.path, fErr)
	}
	return nil
}

// File is a single, non-rotating output file.
type File struct {
	out   *gzFile
	count int
}

// Create truncates (or creates) name as a compressed record file. The .json.gz extension is added
// when missing.
func Create(name string, level int) (*File, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("empty filename")
	}

	out, err := openGz(WithExtension(name), os.O_TRUNC, level)
	if err != nil {
		return nil, err
	}
	return &File{out: out}, nil
}

// Name returns the path being written.
func (f *File) Name() string { return f.out.path }

// Count returns the number of records written so far.
func (f *File) Count() int { return f.count }

func (f *File) Write(rec record.Record) error {
	wrote, err := f.out.write(rec)
	if err != nil {
		return err
	}
	if wrote {
		f.count++
	}
	return nil
}

func (f *File) Close() error { return f.out.close() }

// WithExtension appends .json.gz unless name already ends with it.
func WithExtension(name string) string {
	if strings.HasSuffix(name, Extension) {
		return name
	}
	return name + Extension
}

// Reader iterates the records of a .json.gz (or plain .json) file.
type Reader struct {
	name string
	f    *os.File
	gz   *gzip.Reader
	sc   *bufio.Scanner
	line int
}

// OpenReader opens a record file for reading. Files ending in .gz are decompressed; concatenated
// gzip members (from appended runs) are read as one stream.
func OpenReader(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	r := &Reader{name: name, f: f}

	var src io.Reader = f
	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gunzip %s: %w", name, err)
		}
		r.gz = gz
		src = gz
	}

	r.sc = bufio.NewScanner(src)
	r.sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return r, nil
}

// Next returns the next record or io.EOF. Undecodable lines are logged and skipped.
func (r *Reader) Next() (record.Record, error) {
	for r.sc.Scan() {
		r.line++
		line := r.sc.Bytes()
		if len(line) == 0 {
			continue
		}

		rec, err := record.Parse(line)
		if err != nil {
			log.Warnf("%s:%d: %v", r.name, r.line, err)
			continue
		}
		return rec, nil
	}

	if err := r.sc.Err(); err != nil {
		return record.Record{}, fmt.Errorf("read %s: %w", r.name, err)
	}
	return record.Record{}, io.EOF
}

func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.f.Close()
}

// Bucket is the rotation key for t: the UTC calendar day.
func Bucket(t time.Time) string { return t.UTC().Format("2006-01-02") }
