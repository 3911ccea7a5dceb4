package sink

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/domain"
)

func newTestWriter(t *testing.T, retain int, notify chan<- string) (*Writer, *domain.SinkStats) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		ListeningPort:    9999,
		LogMaxSizeMB:     1,
		LogHistoryToKeep: retain,
	}
	cfg.Sink.Path = filepath.Join(dir, "plc.log")
	cfg.Sink.HistoryDir = filepath.Join(dir, "history")
	cfg.Sink.Pattern = string(PatternRaw)

	stats := &domain.SinkStats{}
	w, err := NewWriter(cfg, stats, notify)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	return w, stats
}

func msg(text string) domain.LogMessage {
	return domain.LogMessage{Text: text, From: "127.0.0.1:51234", Timestamp: time.Now()}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func readArchive(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening archive %s: %v", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader for %s: %v", path, err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("decompressing %s: %v", path, err)
	}
	return string(data)
}

func listArchives(t *testing.T, w *Writer) []string {
	t.Helper()
	entries, err := os.ReadDir(w.historyDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading history dir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestAppendWritesAndMirrors(t *testing.T) {
	w, stats := newTestWriter(t, 2, nil)

	var mirror bytes.Buffer
	w.mirror = &mirror

	for _, text := range []string{"temp=21.5", "temp=22.0"} {
		if err := w.Append(msg(text)); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}

	want := "temp=21.5\ntemp=22.0\n"
	if got := readFile(t, w.path); got != want {
		t.Errorf("log file = %q, want %q", got, want)
	}
	if mirror.String() != want {
		t.Errorf("console mirror = %q, want %q", mirror.String(), want)
	}
	if got := stats.MessagesWritten.Load(); got != 2 {
		t.Errorf("MessagesWritten = %d, want 2", got)
	}
	if got := stats.Rotations.Load(); got != 0 {
		t.Errorf("Rotations = %d, want 0 (well under trigger)", got)
	}
	if archives := listArchives(t, w); len(archives) != 0 {
		t.Errorf("unexpected archives %v", archives)
	}
}

func TestRotationBoundary(t *testing.T) {
	w, stats := newTestWriter(t, 2, nil)
	w.trigger = 100

	// Ten-byte payloads make eleven-byte lines; the tenth write crosses the
	// 100 byte trigger.
	line := strings.Repeat("a", 10)
	for i := 0; i < 9; i++ {
		if err := w.Append(msg(line)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	if got := stats.Rotations.Load(); got != 0 {
		t.Fatalf("rotated too early: Rotations = %d after 99 bytes", got)
	}

	if err := w.Append(msg(line)); err != nil {
		t.Fatalf("crossing append: %v", err)
	}

	if got := stats.Rotations.Load(); got != 1 {
		t.Fatalf("Rotations = %d, want exactly 1", got)
	}
	if got := w.Written(); got != 0 {
		t.Errorf("Written() = %d, want 0 on fresh file", got)
	}

	info, err := os.Stat(w.path)
	if err != nil {
		t.Fatalf("stat active file: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("active file size = %d, want 0 after rotation", info.Size())
	}

	archived := readArchive(t, w.archivePath(1))
	if got := strings.Count(archived, line); got != 10 {
		t.Errorf("archive holds %d lines, want all 10 pre-rotation lines", got)
	}
}

func TestRetentionBoundary(t *testing.T) {
	notify := make(chan string, 8)
	w, stats := newTestWriter(t, 2, notify)
	w.trigger = 10

	// Each append overshoots the trigger on its own, forcing one rotation per
	// append. Distinct payloads identify which rotation produced an archive.
	for _, text := range []string{"rotation-one", "rotation-two", "rotation-three"} {
		if err := w.Append(msg(text)); err != nil {
			t.Fatalf("Append(%q): %v", text, err)
		}
	}

	if got := stats.Rotations.Load(); got != 3 {
		t.Fatalf("Rotations = %d, want 3", got)
	}

	archives := listArchives(t, w)
	if len(archives) != 2 {
		t.Fatalf("archive count = %d (%v), want exactly 2", len(archives), archives)
	}

	if got := readArchive(t, w.archivePath(1)); !strings.Contains(got, "rotation-three") {
		t.Errorf("newest archive = %q, want the last rotated content", got)
	}
	if got := readArchive(t, w.archivePath(2)); !strings.Contains(got, "rotation-two") {
		t.Errorf("second archive = %q, want the middle rotated content", got)
	}
	// rotation-one was evicted as the oldest

	if got := len(notify); got != 3 {
		t.Errorf("notify channel received %d archives, want 3", got)
	}
}

func TestRetentionZeroDiscards(t *testing.T) {
	w, stats := newTestWriter(t, 0, nil)
	w.trigger = 10

	if err := w.Append(msg("this line is discarded on rotation")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if got := stats.Rotations.Load(); got != 1 {
		t.Fatalf("Rotations = %d, want 1", got)
	}
	if archives := listArchives(t, w); len(archives) != 0 {
		t.Errorf("archives = %v, want none with retention 0", archives)
	}
	if got := readFile(t, w.path); got != "" {
		t.Errorf("active file = %q, want empty after discard rotation", got)
	}
}

func TestReconfigureIsIdempotent(t *testing.T) {
	w, _ := newTestWriter(t, 2, nil)

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	m := domain.LogMessage{Text: "temp=21.5", From: "127.0.0.1:1", Timestamp: ts}

	w.Reconfigure(PatternDiagnostic)
	if err := w.Append(m); err != nil {
		t.Fatalf("Append after first reconfigure: %v", err)
	}

	w.Reconfigure(PatternDiagnostic)
	if err := w.Append(m); err != nil {
		t.Fatalf("Append after second reconfigure: %v", err)
	}

	lines := strings.Split(strings.TrimRight(readFile(t, w.path), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0] != lines[1] {
		t.Errorf("repeated reconfigure changed output: %q vs %q", lines[0], lines[1])
	}
}

func TestReconfigureSwitchesRendering(t *testing.T) {
	w, _ := newTestWriter(t, 2, nil)

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	m := domain.LogMessage{Text: "temp=21.5", From: "127.0.0.1:1", Timestamp: ts}

	if err := w.Append(m); err != nil {
		t.Fatalf("Append raw: %v", err)
	}

	w.Reconfigure(PatternDiagnostic)
	if err := w.Append(m); err != nil {
		t.Fatalf("Append diagnostic: %v", err)
	}

	want := "temp=21.5\n2026-03-14 09:26:53 | INFO | temp=21.5\n"
	if got := readFile(t, w.path); got != want {
		t.Errorf("log file = %q, want %q", got, want)
	}

	// The file was neither rotated nor truncated by the swap.
	if got := w.Written(); got != int64(len(want)) {
		t.Errorf("Written() = %d, want %d", got, len(want))
	}
}

func TestWriterResumesByteCount(t *testing.T) {
	w, _ := newTestWriter(t, 2, nil)

	if err := w.Append(msg("persisted")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	written := w.Written()
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cfg := &config.Config{LogMaxSizeMB: 1, LogHistoryToKeep: 2}
	cfg.Sink.Path = w.path
	cfg.Sink.HistoryDir = w.historyDir
	cfg.Sink.Pattern = string(PatternRaw)

	reopened, err := NewWriter(cfg, &domain.SinkStats{}, nil)
	if err != nil {
		t.Fatalf("NewWriter reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Written(); got != written {
		t.Errorf("reopened Written() = %d, want %d", got, written)
	}
}
