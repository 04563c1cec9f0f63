// Package transport carries protocol messages over a single TCP connection.
//
// Each connection runs a sender goroutine that drains an unbounded outbound queue with
// blocking writes, and a receiver goroutine that feeds blocking reads through a
// protocol.Reassembler. The control loop only ever touches the non-blocking Send and
// Receive methods.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/gwillem/hapticlink/pkg/metric"
	"github.com/gwillem/hapticlink/pkg/protocol"
	"github.com/gwillem/hapticlink/pkg/queue"
)

// ErrClosed reports that the peer closed or reset the connection.
var ErrClosed = errors.New("connection closed")

// peerGone reports whether err means the other end is no longer there.
func peerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

const readBufferSize = 4096

// link is one connection with typed outbound and inbound directions.
type link[Out, In any] struct {
	conn    net.Conn
	logger  *slog.Logger
	metrics *metric.Metrics

	out     *queue.Queue[Out]
	encode  func(*Out, []byte) ([]byte, error)
	outKind string

	reasm   *protocol.Reassembler[In]
	deliver func(In)
	inKind  string

	closeOnce sync.Once
}

func (l *link[Out, In]) send(m Out) bool {
	return l.out.Push(m)
}

// Run services the connection until the peer goes away or ctx ends. A context
// cancellation returns nil; a peer hang-up or reset returns an error wrapping
// ErrClosed.
func (l *link[Out, In]) Run(ctx context.Context) error {
	l.metrics.Connected(true)
	defer l.metrics.Connected(false)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.sendLoop(gctx) })
	g.Go(func() error { return l.receiveLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		l.Close()
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	l.metrics.LinkLost()
	return err
}

// Close tears the connection down. Further sends are dropped.
func (l *link[Out, In]) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.out.Close()
		err = l.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address.
func (l *link[Out, In]) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// Pending returns the number of queued outbound messages.
func (l *link[Out, In]) Pending() int {
	return l.out.Len()
}

func (l *link[Out, In]) sendLoop(ctx context.Context) error {
	buf := make([]byte, 0, 256)
	for {
		m, err := l.out.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		buf, err = l.encode(&m, buf[:0])
		if err != nil {
			return fmt.Errorf("encode %s: %w", l.outKind, err)
		}
		if _, err := l.conn.Write(buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if peerGone(err) {
				return fmt.Errorf("write %s: %w: %w", l.outKind, ErrClosed, err)
			}
			return fmt.Errorf("write %s: %w", l.outKind, err)
		}
		l.metrics.MessageSent(l.outKind)
	}
}

func (l *link[Out, In]) receiveLoop(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			before := l.reasm.Discarded()
			msgs, derr := l.reasm.Feed(buf[:n])
			if derr != nil {
				l.metrics.DecodeError(l.inKind)
				l.logger.Warn("dropped malformed frame", "type", l.inKind, "error", derr)
			}
			l.metrics.MessagesDiscarded(l.inKind, l.reasm.Discarded()-before)
			l.metrics.MessagesReceived(l.inKind, len(msgs))
			for _, m := range msgs {
				l.deliver(m)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if peerGone(err) {
				return fmt.Errorf("read %s: %w: %w", l.inKind, ErrClosed, err)
			}
			return fmt.Errorf("read %s: %w", l.inKind, err)
		}
	}
}
