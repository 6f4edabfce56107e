package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/simstats/internal/monitoring"
)

// UDPSocket is the subset of *net.UDPConn the listener uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (n int, addr *net.UDPAddr, err error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	Close() error
	LocalAddr() net.Addr
}

// UDPListenerConfig configures a UDPListener.
type UDPListenerConfig struct {
	Address string
	RcvBuf  int
	// MaxDatagram bounds a single record. Defaults to 64 KiB.
	MaxDatagram int
	// Listen opens the socket; defaults to net.ListenUDP.
	Listen func(network string, laddr *net.UDPAddr) (UDPSocket, error)
}

// UDPListener receives one JSON record per datagram and routes it.
type UDPListener struct {
	cfg    UDPListenerConfig
	router *Router
	conn   UDPSocket
}

func NewUDPListener(cfg UDPListenerConfig, router *Router) *UDPListener {
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = 64 << 10
	}
	if cfg.Listen == nil {
		cfg.Listen = func(network string, laddr *net.UDPAddr) (UDPSocket, error) {
			return net.ListenUDP(network, laddr)
		}
	}
	return &UDPListener{cfg: cfg, router: router}
}

// Start listens until ctx is done.
func (l *UDPListener) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", l.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := l.cfg.Listen("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	l.conn = conn
	defer conn.Close()

	if l.cfg.RcvBuf > 0 {
		if err := conn.SetReadBuffer(l.cfg.RcvBuf); err != nil {
			monitoring.Logf("[ingest] failed to set UDP receive buffer to %d: %v", l.cfg.RcvBuf, err)
		}
	}
	monitoring.Logf("[ingest] UDP listener started on %s", conn.LocalAddr())

	buffer := make([]byte, l.cfg.MaxDatagram)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Short deadline so cancellation is noticed.
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, from, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			monitoring.Logf("[ingest] UDP read error: %v", err)
			continue
		}
		if err := l.router.Route(buffer[:n]); err != nil {
			monitoring.Debugf("[ingest] datagram from %v: %v", from, err)
		}
	}
}

// Close closes the socket, ending Start.
func (l *UDPListener) Close() error {
	if l.conn != nil {
		return l.conn.Close()
	}
	return nil
}
