package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/censys-research/shodan-ng/pkg/record"
	log "github.com/sirupsen/logrus"
)

// Rotating writes records into one file per UTC day (<dir>/<YYYY-MM-DD>.json.gz). At most one file
// is open at a time; a day change closes the old file before the new one is opened. Existing files
// are appended to, never truncated.
type Rotating struct {
	dir    string
	level  int
	now    func() time.Time
	bucket string
	out    *gzFile
}

type RotatingOption func(*Rotating)

// WithClock replaces the wall clock used to compute buckets.
func WithClock(now func() time.Time) RotatingOption {
	return func(r *Rotating) { r.now = now }
}

// WithCompressLevel sets the gzip level of newly opened files.
func WithCompressLevel(level int) RotatingOption {
	return func(r *Rotating) { r.level = level }
}

// NewRotating creates a sink under dir. Nothing is opened until the first Write.
func NewRotating(dir string, options ...RotatingOption) *Rotating {
	r := &Rotating{
		dir:   dir,
		level: DefaultCompressLevel,
		now:   time.Now,
	}

	for _, option := range options {
		option(r)
	}

	return r
}

// Current returns the path of the open file, or "" before the first write.
func (r *Rotating) Current() string {
	if r.out == nil {
		return ""
	}
	return r.out.path
}

func (r *Rotating) Write(rec record.Record) error {
	bucket := Bucket(r.now())

	if r.out == nil || bucket != r.bucket {
		if err := r.rotate(bucket); err != nil {
			return err
		}
	}

	_, err := r.out.write(rec)
	return err
}

func (r *Rotating) rotate(bucket string) error {
	if r.out != nil {
		log.Infof("rotating %s -> %s", r.bucket, bucket)
		if err := r.out.close(); err != nil {
			return err
		}
		r.out = nil
	}

	fn := filepath.Join(r.dir, bucket+Extension)
	out, err := openGz(fn, os.O_APPEND, r.level)
	if err != nil {
		return fmt.Errorf("rotate to %s: %w", bucket, err)
	}

	r.out = out
	r.bucket = bucket
	return nil
}

// Close closes the current file, if any.
func (r *Rotating) Close() error {
	if r.out == nil {
		return nil
	}
	err := r.out.close()
	r.out = nil
	return err
}
