// Package discovery receives the unsolicited UDP broadcasts devices emit
// every few seconds and turns them into verified state snapshots.
//
// The listener is read-only with respect to devices: it never sends. Each
// protocol family announces on its own port, and the listener watches both
// by default. Corrupt datagrams are broadcast noise and are dropped
// silently; every verified broadcast is delivered to the consumer exactly
// once, with no deduplication.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/logging"
	"github.com/tomerfi/switcher/internal/protocol"
)

// maxDatagramSize bounds one broadcast read. Real announcements are under
// 200 bytes.
const maxDatagramSize = 1024

// Handler consumes one verified broadcast. Called from the listener's
// goroutines; the handler owns any coalescing or cross-goroutine handoff.
type Handler func(device.Descriptor, device.Snapshot)

// Option adjusts a Listener at construction.
type Option func(*Listener)

// WithPorts overrides the UDP ports watched by Listen.
func WithPorts(ports ...int) Option {
	return func(l *Listener) { l.ports = ports }
}

// Listener watches for device announcements until cancelled.
type Listener struct {
	handler Handler
	ports   []int
}

// NewListener builds a listener delivering to handler. Without options it
// watches both families' broadcast ports.
func NewListener(handler Handler, opts ...Option) *Listener {
	l := &Listener{
		handler: handler,
		ports:   []int{protocol.BroadcastPortType1, protocol.BroadcastPortType2},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Listen binds the configured ports and receives until the context is
// cancelled or the duration elapses; a zero duration means run until
// cancelled. Reaching the duration is a normal stop, not an error.
func (l *Listener) Listen(ctx context.Context, duration time.Duration) error {
	conns := make([]net.PacketConn, 0, len(l.ports))
	lc := net.ListenConfig{}
	for _, port := range l.ports {
		conn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", port))
		if err != nil {
			for _, open := range conns {
				open.Close()
			}
			return fmt.Errorf("failed to bind broadcast port %d: %w", port, err)
		}
		conns = append(conns, conn)
	}
	return l.ListenConns(ctx, duration, conns...)
}

// ListenConns receives over caller-supplied sockets, for callers that need
// their own bind options or interfaces. The sockets are closed on return.
func (l *Listener) ListenConns(ctx context.Context, duration time.Duration, conns ...net.PacketConn) error {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			return l.receive(ctx, conn)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// receive reads one socket until cancellation. Closing the socket on
// cancellation releases the blocked read deterministically.
func (l *Listener) receive(ctx context.Context, conn net.PacketConn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("broadcast read failed: %w", err)
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		desc, snap, err := protocol.ParseBroadcast(datagram)
		if err != nil {
			// Broadcast corruption is routine noise, not a failure.
			logging.Debug("dropping broadcast",
				zap.String("from", addr.String()),
				zap.Int("length", n),
				zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		l.handler(desc, snap)
	}
}
