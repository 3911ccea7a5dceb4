package listener

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/bytedance/sonic/encoder"
	flatten "github.com/jeremywohl/flatten"
	"github.com/n0needt0/go-goodies/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/n0needt0/goodies/plc-sink/internal/config"
	"github.com/n0needt0/goodies/plc-sink/internal/domain"
	"github.com/n0needt0/goodies/plc-sink/internal/services"
)

// Listener binds the configured UDP port and dispatches every received
// datagram to its own handler goroutine. The receive loop never waits on a
// handler; the socket must be ready again as soon as the OS delivers the next
// packet.
type Listener struct {
	services   *services.Services
	config     *config.Config
	addr       *net.UDPAddr
	conn       *net.UDPConn
	out        chan<- domain.LogMessage
	quit       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	bufferPool sync.Pool

	datagramsMetric metric.Int64Counter
	dropsMetric     metric.Int64Counter
}

func New(services *services.Services, cfg *config.Config, out chan<- domain.LogMessage) *Listener {
	l := &Listener{
		services: services,
		config:   cfg,
		addr: &net.UDPAddr{
			IP:   net.ParseIP(cfg.UDP.Host),
			Port: cfg.ListeningPort,
		},
		out:  out,
		quit: make(chan struct{}),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return make([]byte, cfg.UDP.ReadBufferSizeBytes)
			},
		},
	}

	var err error
	l.datagramsMetric, err = services.OtelMeter.Int64Counter("udp.datagrams.received",
		metric.WithDescription("Datagrams received on the UDP listener"))
	if err != nil {
		log.Errorf("failed to init datagram metric: %v", err)
	}
	l.dropsMetric, err = services.OtelMeter.Int64Counter("udp.messages.dropped",
		metric.WithDescription("Decoded messages dropped because the sink channel was full"))
	if err != nil {
		log.Errorf("failed to init drop metric: %v", err)
	}

	return l
}

// Start binds the UDP endpoint and launches the receive loop. A bind failure
// is returned to the caller and is fatal for the process; it signals a port
// conflict or misconfiguration that will not self-resolve, so there is no
// retry.
func (l *Listener) Start() error {
	conn, err := net.ListenUDP("udp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", l.addr.String(), err)
	}

	if err := conn.SetReadBuffer(l.config.UDP.ReadBufferSizeBytes); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read buffer for %s: %w", l.addr.String(), err)
	}

	l.conn = conn
	log.Infof("udp server up and listening on %s", conn.LocalAddr().String())

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.receiveLoop()
	}()

	return nil
}

// Addr reports the bound address. Valid after Start.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Stop closes the socket and waits for the receive loop and all in-flight
// handlers to finish.
func (l *Listener) Stop() error {
	log.Info("UDP listener shutting down")

	l.stopOnce.Do(func() {
		close(l.quit)
		if l.conn != nil {
			l.conn.Close()
		}
	})

	l.wg.Wait()
	log.Info("UDP listener shut down gracefully")
	return nil
}

// receiveLoop blocks on the socket, hands each payload to a fresh handler
// goroutine and immediately loops back to receive. A single receive error must
// not terminate the listener.
func (l *Listener) receiveLoop() {
	for {
		select {
		case <-l.quit:
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		buf := l.allocateBuffer()
		readLen, remoteAddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			l.deallocateBuffer(buf)

			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Timeout is expected, continue
				continue
			}

			if l.isClosedConnError(err) {
				// Normal shutdown
				return
			}

			log.Errorf("UDP read error: %v", err)
			if l.config.SOCAlertClient != nil {
				l.config.SOCAlertClient.SendUDPListenerFailureAlert(err)
			}
			continue
		}

		// The handler owns its own copy so the buffer can go straight back to
		// the pool.
		data := make([]byte, readLen)
		copy(data, buf[:readLen])
		l.deallocateBuffer(buf)

		l.wg.Add(1)
		go func(data []byte, from *net.UDPAddr) {
			defer l.wg.Done()
			l.handle(data, from)
		}(data, remoteAddr)
	}
}

// handle decodes one datagram and publishes it onto the message channel. Any
// number of handlers run concurrently; each operates on an independent payload
// with no shared mutable state.
func (l *Listener) handle(data []byte, from *net.UDPAddr) {
	stats := l.services.Stats
	stats.DatagramsReceived.Add(1)
	stats.BytesReceived.Add(int64(len(data)))
	if l.datagramsMetric != nil {
		l.datagramsMetric.Add(context.Background(), 1)
	}

	payload := bytes.TrimSpace(data)
	payload = bytes.Trim(payload, "\x08\x00")
	if len(payload) == 0 {
		return
	}

	if !utf8.Valid(payload) {
		stats.DecodeErrors.Add(1)
		log.Errorf("dropping datagram from %s: payload is not valid UTF-8", from)
		return
	}

	text := string(payload)
	if l.config.Sink.NormalizeJson {
		text = normalizeJson(text)
	}

	msg := domain.LogMessage{
		Text:      text,
		From:      from.String(),
		Timestamp: time.Now(),
	}

	select {
	case l.out <- msg:
		stats.Touch()
	default:
		// Channel is full, drop message and log
		stats.MessagesDropped.Add(1)
		if l.dropsMetric != nil {
			l.dropsMetric.Add(context.Background(), 1)
		}
		log.Warnf("message channel full, dropping message from %s", from)
	}
}

// normalizeJson flattens JSON object payloads to dotted keys and re-encodes
// them compactly with sorted keys, so structured device payloads produce
// stable log lines. Anything that is not a JSON object passes through
// verbatim.
func normalizeJson(text string) string {
	var original map[string]interface{}
	if err := sonic.UnmarshalString(text, &original); err != nil {
		return text
	}

	flat, err := flatten.Flatten(original, "", flatten.DotStyle)
	if err != nil {
		return text
	}

	line, err := encoder.Encode(&flat, encoder.SortMapKeys)
	if err != nil {
		return text
	}

	return strings.TrimRight(string(line), "\n")
}

func (l *Listener) allocateBuffer() []byte {
	return l.bufferPool.Get().([]byte)
}

func (l *Listener) deallocateBuffer(buf []byte) {
	//lint:ignore SA6002 sync.Pool requires putting back the same type that New() returns
	l.bufferPool.Put(buf)
}

// isClosedConnError checks if the error is due to closed connection
func (l *Listener) isClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return strings.Contains(opErr.Err.Error(), "use of closed network connection")
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
