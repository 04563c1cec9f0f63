package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/metric"
	"github.com/gwillem/hapticlink/pkg/teleop"
	"github.com/gwillem/hapticlink/pkg/telemetry"
)

// observer bundles the optional metrics and telemetry endpoints. With no metrics
// address configured every field is nil and the nil-safe methods do nothing.
type observer struct {
	metrics *metric.Metrics
	server  *metric.Server
	hub     *telemetry.Hub
	logger  *slog.Logger
}

func startObserver(cfg *config.Config, role string, logger *slog.Logger) (*observer, error) {
	o := &observer{logger: logger}
	if cfg.Metrics.Addr == "" {
		return o, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metric.New(reg, role)
	if err != nil {
		return nil, err
	}
	o.metrics = m
	o.hub = telemetry.NewHub(logger)
	o.server = metric.NewServer(cfg.Metrics.Addr, reg, logger)
	o.server.Handle("/ws", o.hub)
	if err := o.server.Start(); err != nil {
		o.hub.Close()
		return nil, err
	}
	return o, nil
}

// forward copies controller snapshots to the telemetry hub and, when ui is not
// nil, to the terminal UI. The UI only ever sees the newest snapshot.
func (o *observer) forward(ctx context.Context, states <-chan teleop.Snapshot, ui chan teleop.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-states:
			if o.hub != nil {
				if err := o.hub.Publish(s); err != nil {
					o.logger.Debug("telemetry publish failed", "error", err)
				}
			}
			if ui == nil {
				continue
			}
			select {
			case ui <- s:
			default:
				select {
				case <-ui:
				default:
				}
				select {
				case ui <- s:
				default:
				}
			}
		}
	}
}

func (o *observer) Close() {
	if o.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := o.server.Stop(ctx); err != nil {
			o.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if o.hub != nil {
		o.hub.Close()
	}
}
