package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gwillem/hapticlink/pkg/metric"
	"github.com/gwillem/hapticlink/pkg/protocol"
	"github.com/gwillem/hapticlink/pkg/queue"
)

// ListenConfig configures the slave's listening socket.
type ListenConfig struct {
	Addr string
	// AcceptTimeout bounds the wait for the master; zero waits until ctx ends.
	AcceptTimeout time.Duration
}

// Listener is a bound socket waiting for its one master.
type Listener struct {
	ln      net.Listener
	cfg     ListenConfig
	logger  *slog.Logger
	metrics *metric.Metrics
}

// Bind opens the listening socket.
func Bind(cfg ListenConfig, logger *slog.Logger, metrics *metric.Metrics) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	logger.Info("waiting for master", "addr", ln.Addr().String())
	return &Listener{ln: ln, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept waits for exactly one master and closes the listening socket.
func (l *Listener) Accept(ctx context.Context) (*Server, error) {
	defer l.ln.Close()

	if l.cfg.AcceptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.AcceptTimeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("accept master: %w", ctx.Err())
		}
		return nil, fmt.Errorf("accept master: %w", err)
	}
	l.logger.Info("master connected", "remote", conn.RemoteAddr().String())
	return newServer(conn, l.logger, l.metrics), nil
}

// Close releases the socket without accepting.
func (l *Listener) Close() error {
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Listen binds and accepts one master.
func Listen(ctx context.Context, cfg ListenConfig, logger *slog.Logger, metrics *metric.Metrics) (*Server, error) {
	l, err := Bind(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	return l.Accept(ctx)
}

// Server is the slave end: every motion message is kept, in order.
type Server struct {
	*link[protocol.MessageS2M, protocol.MessageM2S]
	inbox *queue.Queue[protocol.MessageM2S]
}

func newServer(conn net.Conn, logger *slog.Logger, metrics *metric.Metrics) *Server {
	inbox := queue.New[protocol.MessageM2S]()
	return &Server{
		link: &link[protocol.MessageS2M, protocol.MessageM2S]{
			conn:    conn,
			logger:  logger.With("component", "transport"),
			metrics: metrics,
			out:     queue.New[protocol.MessageS2M](),
			encode:  (*protocol.MessageS2M).AppendBinary,
			outKind: "s2m",
			reasm:   protocol.NewM2SReassembler(protocol.KeepAll),
			deliver: func(m protocol.MessageM2S) { inbox.Push(m) },
			inKind:  "m2s",
		},
		inbox: inbox,
	}
}

// Send queues m for the sender goroutine. It never blocks.
func (s *Server) Send(m protocol.MessageS2M) bool {
	return s.send(m)
}

// Receive pops the oldest unprocessed motion message. It never blocks.
func (s *Server) Receive() (protocol.MessageM2S, bool) {
	return s.inbox.TryPop()
}

// Backlog returns the number of received motion messages not yet processed.
func (s *Server) Backlog() int {
	return s.inbox.Len()
}
