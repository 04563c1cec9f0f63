package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/jessevdk/go-flags"

	"github.com/gwillem/hapticlink/pkg/config"
	"github.com/gwillem/hapticlink/pkg/teleop"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"hapticlink.yml" description:"Configuration file"`
	Headless bool   `long:"headless" description:"Log to stderr instead of showing the terminal UI"`

	Master MasterCommand `command:"master" description:"Run the operator side: read the device, render the remote force"`
	Slave  SlaveCommand  `command:"slave" description:"Run the remote side: render the environment at the commanded pose"`
	Setup  SetupCommand  `command:"setup" description:"Scan for SO-101 arms, calibrate them and write the configuration"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "hapticlink - bilateral haptic teleoperation over TCP with TDPA and ISS stabilization"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// loadConfig reads the configuration file, falling back to defaults when it is absent.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(opts.Config)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.Config, err)
	}
	return cfg, nil
}

// newLogger builds the process logger. In TUI mode records go to sink instead of
// stderr, which the alternate screen would hide.
func newLogger(cfg *config.Config, sink *teleop.LogSink) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	var h slog.Handler
	switch {
	case sink != nil:
		h = sink.Handler(level)
	case cfg.Log.Format == "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(h).With("session", uuid.NewString()[:8])
	slog.SetDefault(logger)
	return logger, nil
}

func fail(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
	os.Exit(1)
}
