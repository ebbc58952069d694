package telemetry

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andresmejia3/echoface/internal/metrics"
	"github.com/andresmejia3/echoface/internal/types"
	"github.com/sirupsen/logrus"
)

// DefaultWriteTimeout bounds a single datagram write so a full socket buffer
// never stalls the capture loop.
const DefaultWriteTimeout = 5 * time.Millisecond

// Link owns the outbound UDP socket. It is used from a single goroutine.
type Link struct {
	conn         *net.UDPConn
	target       string
	logger       logrus.FieldLogger
	WriteTimeout time.Duration

	failures  int // consecutive send failures
	closeOnce sync.Once
	closeErr  error
}

// Open dials target from an ephemeral local port. UDP dialing does no
// handshake, so this only fails on resolution or socket errors.
func Open(target string, logger logrus.FieldLogger) (*Link, error) {
	raddr, err := net.ResolveUDPAddr("udp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket to %s: %w", target, err)
	}

	l := &Link{
		conn:         conn,
		target:       raddr.String(),
		logger:       logger.WithField("component", "link"),
		WriteTimeout: DefaultWriteTimeout,
	}
	l.logger.WithFields(logrus.Fields{
		"local":  conn.LocalAddr().String(),
		"target": l.target,
	}).Info("Telemetry link open")
	return l, nil
}

// Send writes one datagram. Failures are logged and the packet is dropped;
// the first failure of a run is a warning, repeats are debug.
func (l *Link) Send(payload []byte) bool {
	if l.WriteTimeout > 0 {
		l.conn.SetWriteDeadline(time.Now().Add(l.WriteTimeout))
	}
	if _, err := l.conn.Write(payload); err != nil {
		l.failures++
		metrics.PacketsDropped.Inc()
		entry := l.logger.WithError(fmt.Errorf("%w: %v", types.ErrTransmit, err)).WithFields(logrus.Fields{
			"target":   l.target,
			"bytes":    len(payload),
			"failures": l.failures,
		})
		if l.failures == 1 {
			entry.Warn("Dropping telemetry packet")
		} else {
			entry.Debug("Dropping telemetry packet")
		}
		return false
	}

	if l.failures > 0 {
		l.logger.WithField("dropped", l.failures).Info("Telemetry link recovered")
		l.failures = 0
	}
	metrics.PacketsSent.Inc()
	return true
}

// Target is the resolved destination address.
func (l *Link) Target() string {
	return l.target
}

// Close releases the socket. Safe to call more than once.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.conn.Close()
	})
	return l.closeErr
}
