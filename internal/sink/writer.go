package sink

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/domain"
)

const archiveBase = "plclog"

// Writer owns the active log file and its rotation state. All append calls come
// from the single sink consumer, so file state needs no locking; only the
// pattern is swappable from other goroutines and sits behind a mutex.
//
// Archives live in historyDir as plclog_1.gz (most recent) through plclog_K.gz.
// A rotation shifts every index up by one, evicting the file that would exceed
// the retention count. Retention 0 discards the previous file outright.
type Writer struct {
	path       string
	historyDir string
	trigger    int64
	retain     int
	mirror     io.Writer

	file    *os.File
	written int64

	mu      sync.RWMutex
	pattern Pattern

	stats  *domain.SinkStats
	notify chan<- string
}

// NewWriter opens the active log file. Initialization failures are startup
// errors; the caller must not start accepting traffic on error. notify, when
// non-nil, receives the path of each freshly written archive.
func NewWriter(cfg *config.Config, stats *domain.SinkStats, notify chan<- string) (*Writer, error) {
	w := &Writer{
		path:       cfg.Sink.Path,
		historyDir: cfg.Sink.HistoryDir,
		trigger:    cfg.TriggerBytes(),
		retain:     cfg.LogHistoryToKeep,
		pattern:    Pattern(cfg.Sink.Pattern),
		stats:      stats,
		notify:     notify,
	}

	if cfg.Sink.ConsoleMirror {
		w.mirror = os.Stdout
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create log directory for %s", w.path)
	}
	if w.retain > 0 {
		if err := os.MkdirAll(w.historyDir, 0755); err != nil {
			return nil, errors.Wrapf(err, "failed to create archive directory %s", w.historyDir)
		}
	}

	if err := w.open(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Writer) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open log file %s", w.path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to stat log file %s", w.path)
	}

	w.file = f
	w.written = info.Size()
	return nil
}

// Pattern returns the currently active formatting pattern.
func (w *Writer) Pattern() Pattern {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pattern
}

// Reconfigure swaps the formatting pattern without touching the file. Later
// appends render with the new pattern; applying the same pattern twice is a
// no-op for the output.
func (w *Writer) Reconfigure(p Pattern) {
	w.mu.Lock()
	w.pattern = p
	w.mu.Unlock()
	log.Infof("log pattern reconfigured to %q", string(p))
}

// Append renders msg under the active pattern and writes it to the file and
// the console mirror. Crossing the size trigger rotates immediately, so the
// next append starts on a fresh file. A write failure on the active file is
// returned to the caller; log storage is the whole point of the process and a
// line that cannot be persisted must not be silently absorbed.
func (w *Writer) Append(msg domain.LogMessage) error {
	line := w.Pattern().Render(msg.Timestamp, "INFO", msg.Text) + "\n"

	n, err := w.file.WriteString(line)
	if err != nil {
		return errors.Wrapf(err, "failed to write log file %s", w.path)
	}

	if w.mirror != nil {
		// Mirror failures do not endanger the durable copy.
		if _, err := io.WriteString(w.mirror, line); err != nil {
			log.Warnf("console mirror write failed: %v", err)
		}
	}

	w.written += int64(n)
	w.stats.MessagesWritten.Add(1)
	w.stats.BytesWritten.Add(int64(n))

	if w.written >= w.trigger {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	return nil
}

// rotate closes the active file, archives it and opens a fresh one. Archive
// housekeeping errors are logged and counted but do not stop the writer; a
// failure to open the fresh active file does.
func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		log.Warnf("error closing %s before rotation: %v", w.path, err)
	}

	if w.retain == 0 {
		if err := os.Remove(w.path); err != nil {
			log.Errorf("failed to discard rotated log %s: %v", w.path, err)
		}
	} else {
		w.archive()
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open fresh log file %s after rotation", w.path)
	}
	w.file = f
	w.written = 0
	w.stats.Rotations.Add(1)

	log.Debugf("rotated %s, %d archives retained at most", w.path, w.retain)
	return nil
}

// archive shifts existing archive indices up by one, evicting the oldest, and
// compresses the just-closed active file into index 1.
func (w *Writer) archive() {
	oldest := w.archivePath(w.retain)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		log.Errorf("failed to evict oldest archive %s: %v", oldest, err)
	}

	for i := w.retain - 1; i >= 1; i-- {
		src := w.archivePath(i)
		dst := w.archivePath(i + 1)
		if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
			log.Errorf("failed to shift archive %s -> %s: %v", src, dst, err)
		}
	}

	newest := w.archivePath(1)
	if err := w.compress(w.path, newest); err != nil {
		log.Errorf("failed to archive %s: %v", w.path, err)
		return
	}

	if err := os.Remove(w.path); err != nil {
		log.Errorf("failed to remove rotated log %s: %v", w.path, err)
	}

	if w.notify != nil {
		select {
		case w.notify <- newest:
		default:
			log.Warnf("archive notify channel full, %s will not be shipped", newest)
		}
	}
}

func (w *Writer) archivePath(i int) string {
	return filepath.Join(w.historyDir, fmt.Sprintf("%s_%d.gz", archiveBase, i))
}

func (w *Writer) compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Written returns the byte count of the active file since the last rotation.
func (w *Writer) Written() int64 {
	return w.written
}

func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
