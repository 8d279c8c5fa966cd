package posestream

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/clementpouget/DeepLabStream/internal/pose"
)

// Handler receives each decoded frame. It runs on the listener goroutine
// and must not block.
type Handler func(pose.Frame)

// ListenerConfig contains configuration options for the UDP listener.
type ListenerConfig struct {
	// Address is the UDP address to listen on, host:port.
	Address string

	// RcvBuf is the socket receive buffer size in bytes. Defaults to 1 MB.
	RcvBuf int

	// LogInterval is how often to log stream statistics. Defaults to 30s.
	LogInterval time.Duration

	// Handler receives each decoded frame. Required.
	Handler Handler
}

// Listener receives one JSON pose frame per UDP datagram and hands the
// decoded frames to the configured handler.
type Listener struct {
	cfg    ListenerConfig
	conn   *net.UDPConn
	buffer []byte
	stats  *StreamStats
}

// NewListener binds the UDP socket. Start runs the receive loop.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("pose listener needs a frame handler")
	}
	if cfg.RcvBuf == 0 {
		cfg.RcvBuf = 1 << 20
	}
	if cfg.LogInterval == 0 {
		cfg.LogInterval = 30 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}

	if err := conn.SetReadBuffer(cfg.RcvBuf); err != nil {
		Opsf("failed to set UDP receive buffer to %d bytes: %v (some OSes clamp buffer sizes)", cfg.RcvBuf, err)
	}

	return &Listener{
		cfg:  cfg,
		conn: conn,
		// max UDP payload; one JSON frame per datagram
		buffer: make([]byte, 65535),
		stats:  NewStreamStats(),
	}, nil
}

// LocalAddr returns the bound address, useful when listening on port 0.
func (l *Listener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Stats exposes the stream counters.
func (l *Listener) Stats() *StreamStats {
	return l.stats
}

// Start runs the receive loop until the context is cancelled or an
// unrecoverable error occurs.
func (l *Listener) Start(ctx context.Context) error {
	Opsf("listening for pose frames on %s", l.conn.LocalAddr())

	go l.startStatsLogging(ctx)

	timeoutCount := 0
	for {
		select {
		case <-ctx.Done():
			Opsf("pose listener shutting down")
			return ctx.Err()
		default:
			// Set a read timeout to allow checking for context cancellation
			if err := l.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
				Diagf("error setting read deadline: %v", err)
				continue
			}

			n, _, err := l.conn.ReadFromUDP(l.buffer)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					// Timeout is expected, continue the loop
					timeoutCount++
					if timeoutCount%10 == 0 {
						Diagf("no pose frames received for %d seconds", timeoutCount)
					}
					continue
				}
				Diagf("error reading UDP datagram: %v", err)
				continue
			}

			timeoutCount = 0
			l.handleDatagram(l.buffer[:n])
		}
	}
}

func (l *Listener) handleDatagram(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		l.stats.AddDecodeError()
		Diagf("dropping datagram: %v", err)
		return
	}
	l.stats.AddFrame(len(data))
	Tracef("frame %d: %d skeletons", frame.Seq, len(frame.Skeletons))
	l.cfg.Handler(frame)
}

func (l *Listener) startStatsLogging(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.stats.LogStats()
		}
	}
}

// Close closes the UDP socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}
