package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const maxDatagram = 64 * 1024

// Receiver decodes inbound telemetry and drops packets that arrive out of
// order or duplicated, keeping only the newest timestamp.
type Receiver struct {
	conn   *net.UDPConn
	logger logrus.FieldLogger

	lastTS  int64
	hasLast bool

	Accepted  uint64
	Stale     uint64
	Malformed uint64
}

// Listen binds a UDP socket on address (e.g. ":12345").
func Listen(address string, logger logrus.FieldLogger) (*Receiver, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return &Receiver{conn: conn, logger: logger.WithField("component", "receiver")}, nil
}

// Addr is the bound local address.
func (r *Receiver) Addr() net.Addr {
	return r.conn.LocalAddr()
}

// Accept applies the stale filter and reports whether p is newer than every
// packet accepted before it.
func (r *Receiver) Accept(p Packet) bool {
	if r.hasLast && p.TS <= r.lastTS {
		r.Stale++
		return false
	}
	r.lastTS = p.TS
	r.hasLast = true
	r.Accepted++
	return true
}

// Run reads datagrams until ctx is cancelled, calling handler for every
// accepted packet from the reading goroutine.
func (r *Receiver) Run(ctx context.Context, handler func(Packet)) error {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		// Short deadline so cancellation is noticed without closing the socket
		r.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive failed: %w", err)
		}

		p, err := Decode(buf[:n])
		if err != nil {
			r.Malformed++
			r.logger.WithError(err).WithField("from", from.String()).Debug("Ignoring datagram")
			continue
		}
		if !r.Accept(p) {
			continue
		}
		handler(p)
	}
}

// Close releases the socket.
func (r *Receiver) Close() error {
	return r.conn.Close()
}
