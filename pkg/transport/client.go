package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gwillem/hapticlink/pkg/metric"
	"github.com/gwillem/hapticlink/pkg/protocol"
	"github.com/gwillem/hapticlink/pkg/queue"
)

// DialConfig configures the master's connection to the slave.
type DialConfig struct {
	Addr string
	// LocalPort pins the source port when non-zero.
	LocalPort int
	Timeout   time.Duration
}

// Client is the master end: it sends motion and keeps only the newest force.
type Client struct {
	*link[protocol.MessageM2S, protocol.MessageS2M]
	inbox queue.Mailbox[protocol.MessageS2M]
}

// Dial connects to the slave. It does not start the I/O goroutines; call Run.
func Dial(ctx context.Context, cfg DialConfig, logger *slog.Logger, metrics *metric.Metrics) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := net.Dialer{Timeout: cfg.Timeout}
	if cfg.LocalPort != 0 {
		d.LocalAddr = &net.TCPAddr{Port: cfg.LocalPort}
	}

	conn, err := d.DialContext(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial slave %s: %w", cfg.Addr, err)
	}
	logger.Info("connected to slave", "remote", conn.RemoteAddr().String(), "local", conn.LocalAddr().String())
	return newClient(conn, logger, metrics), nil
}

func newClient(conn net.Conn, logger *slog.Logger, metrics *metric.Metrics) *Client {
	c := &Client{}
	c.link = &link[protocol.MessageM2S, protocol.MessageS2M]{
		conn:    conn,
		logger:  logger.With("component", "transport"),
		metrics: metrics,
		out:     queue.New[protocol.MessageM2S](),
		encode:  (*protocol.MessageM2S).AppendBinary,
		outKind: "m2s",
		reasm:   protocol.NewS2MReassembler(protocol.KeepLatest),
		deliver: c.inbox.Put,
		inKind:  "s2m",
	}
	return c
}

// Send queues m for the sender goroutine. It never blocks.
func (c *Client) Send(m protocol.MessageM2S) bool {
	return c.send(m)
}

// Receive returns the newest force message not yet taken. It never blocks.
func (c *Client) Receive() (protocol.MessageS2M, bool) {
	return c.inbox.Take()
}

// Offline stands in for the slave when the master could not connect. The control
// loop keeps running locally against it.
type Offline struct{}

func (Offline) Send(protocol.MessageM2S) bool { return false }

func (Offline) Receive() (protocol.MessageS2M, bool) { return protocol.MessageS2M{}, false }

func (Offline) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (Offline) Close() error { return nil }
