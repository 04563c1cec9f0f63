package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/gwillem/hapticlink/pkg/control"
	"github.com/gwillem/hapticlink/pkg/teleop"
	"github.com/gwillem/hapticlink/pkg/transport"
)

// controller is what a session needs from teleop.Master and teleop.Slave.
type controller interface {
	Run(ctx context.Context) error
	Stop() error
	States() <-chan teleop.Snapshot
	SetMode(m control.Mode) bool
	Hz() int
}

// linkRunner is the network side of a session.
type linkRunner interface {
	Run(ctx context.Context) error
	Close() error
}

// runSession runs the link, the control loop and the snapshot fan-out until ctx
// ends or the control loop stops. With a log sink the terminal UI runs in front
// and quitting it ends the session.
//
// The master outlives its link: when the slave goes away the loop keeps
// rendering locally without force feedback. On the slave a lost master ends the
// session. The control loop is stopped, bounded, before returning so the caller
// can release the device and sockets.
func runSession(ctx context.Context, role string, ctrl controller, link linkRunner, obs *observer, sink *teleop.LogSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	outlivesLink := role == "master"

	var ui chan teleop.Snapshot
	if sink != nil {
		ui = make(chan teleop.Snapshot, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := link.Run(gctx)
		if outlivesLink && gctx.Err() == nil {
			obs.logger.Warn("slave link lost, running without force feedback", "error", err)
			return nil
		}
		cancel()
		return err
	})
	g.Go(func() error {
		defer cancel()
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		obs.forward(gctx, ctrl.States(), ui)
		return nil
	})

	var uiErr error
	if sink != nil {
		p := tea.NewProgram(newMonitor(role, ctrl, ui, sink.Lines()), tea.WithAltScreen())
		g.Go(func() error {
			<-gctx.Done()
			p.Quit()
			return nil
		})
		if _, err := p.Run(); err != nil {
			uiErr = fmt.Errorf("terminal ui: %w", err)
		}
	} else {
		<-gctx.Done()
	}
	cancel()

	if err := ctrl.Stop(); err != nil {
		return errors.Join(uiErr, err)
	}
	err := g.Wait()
	if errors.Is(err, transport.ErrClosed) {
		obs.logger.Warn("peer closed the connection")
		err = nil
	}
	return errors.Join(uiErr, err)
}
