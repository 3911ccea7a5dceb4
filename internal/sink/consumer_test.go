package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/domain"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
)

func TestConsumerSerializesWrites(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		ListeningPort:    9999,
		LogMaxSizeMB:     1,
		LogHistoryToKeep: 2,
	}
	cfg.Sink.Path = filepath.Join(dir, "plc.log")
	cfg.Sink.HistoryDir = filepath.Join(dir, "history")
	cfg.Sink.Pattern = string(PatternRaw)

	svcs := services.NewServices(cfg)

	w, err := NewWriter(cfg, svcs.Stats, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	messages := make(chan domain.LogMessage, 10)
	c := NewConsumer(svcs, w, messages)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	messages <- domain.LogMessage{Text: "temp=21.5", From: "127.0.0.1:1", Timestamp: time.Now()}
	messages <- domain.LogMessage{Text: "temp=22.0", From: "127.0.0.1:1", Timestamp: time.Now()}

	deadline := time.Now().Add(2 * time.Second)
	for svcs.Stats.MessagesWritten.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for messages to be written")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	data, err := os.ReadFile(cfg.Sink.Path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	got := string(data)
	for _, want := range []string{"temp=21.5\n", "temp=22.0\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("log file %q missing %q", got, want)
		}
	}
}
