// Package outlog writes the per-node result files of a run: recv<addr>.csv
// with one row per distinct delivery and sent<addr>.csv with one row per
// originated traffic unit.
package outlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/signalsfoundry/leo-swarm-router/internal/logging"
	"github.com/signalsfoundry/leo-swarm-router/internal/routing"
	"github.com/signalsfoundry/leo-swarm-router/model"
)

type sink struct {
	f *os.File
	w *csv.Writer
}

// Writer is a routing.Telemetry that appends rows to per-node CSV files in
// Dir. Times are written as seconds since Epoch. Files are created on first
// use; write errors are kept and reported by Close.
type Writer struct {
	Dir   string
	Epoch time.Time

	mu    sync.Mutex
	files map[string]*sink
	err   error
	log   logging.Logger
}

var _ routing.Telemetry = (*Writer)(nil)

// NewWriter creates dir if needed and returns a writer rooted there.
func NewWriter(dir string, epoch time.Time, log logging.Logger) (*Writer, error) {
	if dir == "" {
		return nil, errors.New("outlog: empty output dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("outlog: create %s: %w", dir, err)
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Writer{
		Dir:   dir,
		Epoch: epoch,
		files: make(map[string]*sink),
		log:   log,
	}, nil
}

// RecvPath and SentPath name the files of a node.
func (w *Writer) RecvPath(node model.Address) string {
	return filepath.Join(w.Dir, fmt.Sprintf("recv%d.csv", node))
}

func (w *Writer) SentPath(node model.Address) string {
	return filepath.Join(w.Dir, fmt.Sprintf("sent%d.csv", node))
}

// Delivered appends creation,source,latency,sequence,hops,size.
func (w *Writer) Delivered(ctx context.Context, d routing.Delivery) {
	w.write(ctx, w.RecvPath(d.Node), []string{
		w.seconds(d.CreatedAt),
		strconv.Itoa(int(d.Source)),
		formatSeconds(d.Latency()),
		strconv.Itoa(d.Sequence),
		strconv.Itoa(d.HopCount),
		strconv.Itoa(d.Size),
	})
}

// Originated appends the traffic time and the comma-joined active set.
func (w *Writer) Originated(ctx context.Context, o routing.Origination) {
	active := make([]string, len(o.Active))
	for i, a := range o.Active {
		active[i] = strconv.Itoa(int(a))
	}
	w.write(ctx, w.SentPath(o.Node), []string{
		w.seconds(o.At),
		strings.Join(active, ","),
	})
}

func (w *Writer) Duplicate(context.Context, model.Address, model.DedupKey) {}
func (w *Writer) Forwarded(model.Direction)                                {}
func (w *Writer) Dropped(routing.DropReason)                               {}
func (w *Writer) NodeTotals(context.Context, model.Address, int, int)      {}

// Close flushes and closes every file. It returns the first write error seen
// during the run joined with any close errors.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	errs := []error{w.err}
	for path, s := range w.files {
		s.w.Flush()
		if err := s.w.Error(); err != nil {
			errs = append(errs, fmt.Errorf("outlog: flush %s: %w", path, err))
		}
		if err := s.f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("outlog: close %s: %w", path, err))
		}
	}
	w.files = make(map[string]*sink)
	return errors.Join(errs...)
}

func (w *Writer) write(ctx context.Context, path string, row []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, err := w.open(path)
	if err == nil {
		err = s.w.Write(row)
	}
	if err != nil {
		if w.err == nil {
			w.err = err
		}
		w.log.Warn(ctx, "output log write failed", logging.String("path", path), logging.String("error", err.Error()))
	}
}

func (w *Writer) open(path string) (*sink, error) {
	if s, ok := w.files[path]; ok {
		return s, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("outlog: open %s: %w", path, err)
	}
	s := &sink{f: f, w: csv.NewWriter(f)}
	w.files[path] = s
	return s, nil
}

func (w *Writer) seconds(t time.Time) string {
	return formatSeconds(t.Sub(w.Epoch))
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
