package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rsyslog-core/pipeline/internal/metrics"
)

// TCPConfig configures a TCP forwarding session (spec §4.8 "TCP with
// framing").
type TCPConfig struct {
	ActionName         string
	Addr               string
	Framing            Framing
	CompressionLevel   int // 0 disables compression
	CompressThreshold  int // default 1024
	DialTimeout        time.Duration
}

// TCP is a framed, optionally-compressed forwarding session whose
// connection status transitions are mutex-guarded so the main I/O
// selector can inspect them race-free (spec §5, §4.8).
type TCP struct {
	cfg TCPConfig

	mu   sync.Mutex
	conn net.Conn

	state int32 // atomic ConnState

	// hold is the one-slot buffer absorbing a single message sent during
	// CONNECTING so a short burst isn't lost while the handshake
	// completes (spec §4.8); a second message arriving during CONNECTING
	// is dropped and counted via ErrConnectingBufferFull.
	holdMu  sync.Mutex
	hold    []byte
	holding bool

	droppedDuringConnect int64
}

// NewTCP constructs a session in NOT_CONNECTED; it does not dial until the
// first Send.
func NewTCP(cfg TCPConfig) *TCP {
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = defaultCompressThreshold
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &TCP{cfg: cfg}
}

// State reports the current connection state.
func (t *TCP) State() ConnState {
	return ConnState(atomic.LoadInt32(&t.state))
}

func (t *TCP) setState(s ConnState) {
	atomic.StoreInt32(&t.state, int32(s))
	metrics.TransportConnState.WithLabelValues(t.cfg.ActionName).Set(float64(s))
}

// Send frames (and, if configured and worthwhile, compresses) payload and
// writes it to the session, connecting first if necessary. On any error
// the socket is closed, state returns to NOT_CONNECTED, and ErrSuspend is
// returned (spec §4.8 "On send error the socket is closed, state returns
// to NOT_CONNECTED, and the caller receives SUSPEND").
func (t *TCP) Send(payload []byte) error {
	if t.cfg.CompressionLevel > 0 && len(payload) > t.cfg.CompressThreshold {
		if compressed, shrank := compressFrame(payload, t.cfg.CompressionLevel); shrank {
			metrics.TransportCompressionSaved.WithLabelValues(t.cfg.ActionName).Add(float64(len(payload) - len(compressed)))
			payload = compressed
		}
	}
	wire := frame(payload, t.cfg.Framing)

	switch t.State() {
	case StateReady:
		return t.write(wire)
	case StateConnecting:
		return t.bufferDuringConnect(wire)
	default:
		return t.connectAndSend(wire)
	}
}

func (t *TCP) bufferDuringConnect(wire []byte) error {
	t.holdMu.Lock()
	defer t.holdMu.Unlock()
	if t.holding {
		t.droppedDuringConnect++
		return ErrConnectingBufferFull
	}
	t.hold = wire
	t.holding = true
	return nil
}

func (t *TCP) connectAndSend(wire []byte) error {
	t.setState(StateConnecting)

	conn, err := net.DialTimeout("tcp", t.cfg.Addr, t.cfg.DialTimeout)
	if err != nil {
		t.setState(StateNotConnected)
		return fmt.Errorf("%w: dial %s: %v", ErrSuspend, t.cfg.Addr, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	t.setState(StateReady)

	// Flush anything buffered while we were connecting, oldest first:
	// the held message, then this call's own message.
	t.holdMu.Lock()
	held := t.hold
	wasHolding := t.holding
	t.hold = nil
	t.holding = false
	t.holdMu.Unlock()

	if wasHolding {
		if err := t.write(held); err != nil {
			return err
		}
	}
	return t.write(wire)
}

func (t *TCP) write(wire []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return t.connectAndSend(wire)
	}

	n, err := conn.Write(wire)
	if err != nil || n != len(wire) {
		t.mu.Lock()
		conn.Close()
		t.conn = nil
		t.mu.Unlock()
		t.setState(StateNotConnected)
		return fmt.Errorf("%w: %v", ErrSuspend, err)
	}

	metrics.TransportBytesSent.WithLabelValues(t.cfg.ActionName, "tcp").Add(float64(n))
	return nil
}

// Close shuts down the session.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setState(StateNotConnected)
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// DroppedDuringConnect reports how many messages were dropped because the
// one-slot CONNECTING buffer was already occupied.
func (t *TCP) DroppedDuringConnect() int64 {
	t.holdMu.Lock()
	defer t.holdMu.Unlock()
	return t.droppedDuringConnect
}
