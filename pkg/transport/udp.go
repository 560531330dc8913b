package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/rsyslog-core/pipeline/internal/metrics"
)

// UDPConfig configures a UDP forwarding sender (spec §4.8 "UDP").
type UDPConfig struct {
	ActionName string
	Targets    []string // host:port, resolved once and cached
	MaxLine    int       // default 2048, spec §6
}

// UDP resolves its targets once and fans a send out to every resolved
// address; success is at least one sendto that transmits the full
// payload. There is no in-flight tracking (spec §4.8).
type UDP struct {
	actionName string
	maxLine    int

	mu      sync.Mutex
	targets []*net.UDPAddr
	conn    *net.UDPConn
}

// NewUDP resolves cfg.Targets once. A resolve failure is returned as an
// error, which fails the omfwd module's NewInstance and so the Action's
// construction; the Action is not moved to SUSPENDED, and targets are not
// resolved again later.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	if cfg.MaxLine <= 0 {
		cfg.MaxLine = 2048
	}

	u := &UDP{actionName: cfg.ActionName, maxLine: cfg.MaxLine}
	for _, t := range cfg.Targets {
		addr, err := net.ResolveUDPAddr("udp", t)
		if err != nil {
			return nil, fmt.Errorf("transport: resolve %s: %w", t, err)
		}
		u.targets = append(u.targets, addr)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("transport: open udp socket: %w", err)
	}
	u.conn = conn
	return u, nil
}

// Send truncates payload to MaxLine and writes it to every resolved
// target, returning nil as soon as one send transmits the full datagram.
func (u *UDP) Send(payload []byte) error {
	if len(payload) > u.maxLine {
		payload = payload[:u.maxLine]
	}

	u.mu.Lock()
	targets := u.targets
	conn := u.conn
	u.mu.Unlock()

	var lastErr error
	sent := false
	for _, addr := range targets {
		n, err := conn.WriteToUDP(payload, addr)
		if err != nil || n != len(payload) {
			lastErr = err
			continue
		}
		sent = true
		metrics.TransportBytesSent.WithLabelValues(u.actionName, "udp").Add(float64(n))
	}

	if !sent {
		if lastErr == nil {
			lastErr = ErrSuspend
		}
		return ErrSuspend
	}
	return nil
}

// Close releases the UDP socket.
func (u *UDP) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.Close()
}
