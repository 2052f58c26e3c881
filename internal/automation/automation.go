// Package automation polls the server for scripted launch commands.
package automation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/missileglobe/globe-client/internal/launch"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

// Command is one scripted launch.
type Command struct {
	Key     string
	Request launch.Request
}

// Source yields new commands. Next returns nil when nothing new is available.
type Source interface {
	Next(ctx context.Context) (*Command, error)
}

// Fetcher reads the current parameters document.
type Fetcher interface {
	LaunchParameters(ctx context.Context) (*protocol.LaunchParameters, error)
}

// Launcher executes a launch command.
type Launcher interface {
	Launch(ctx context.Context, req launch.Request) (protocol.LaunchRequest, error)
}

// HTTPSource turns the parameters document into a stream of new commands.
// A document is new when its id differs from the last one seen, or, without
// an id, when its content differs.
type HTTPSource struct {
	fetcher Fetcher
	last    string
	seen    bool
}

// NewHTTPSource creates a source over fetcher.
func NewHTTPSource(fetcher Fetcher) *HTTPSource {
	return &HTTPSource{fetcher: fetcher}
}

// Next returns the current command if it has not been returned before.
func (s *HTTPSource) Next(ctx context.Context) (*Command, error) {
	params, err := s.fetcher.LaunchParameters(ctx)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, nil
	}

	key := commandKey(*params)
	if s.seen && key == s.last {
		return nil, nil
	}
	s.last, s.seen = key, true

	return &Command{
		Key: key,
		Request: launch.Request{
			City:         params.City,
			Velocity:     params.InitialVelocity,
			VelocityMode: params.VelocityMode,
		},
	}, nil
}

func commandKey(p protocol.LaunchParameters) string {
	if p.ID != "" {
		return "id:" + p.ID
	}
	return fmt.Sprintf("content:%s|%s|%v", p.City, p.VelocityMode, p.InitialVelocity)
}

// Poller fires one launch per new command on a fixed interval.
type Poller struct {
	source   Source
	launcher Launcher
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller creates a poller. A non-positive interval defaults to 2s.
func NewPoller(source Source, launcher Launcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   source,
		launcher: launcher,
		interval: interval,
		logger:   logger.With("component", "automation"),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Automation poller started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Automation poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll checks the source once and launches a new command if there is one.
// It reports whether a launch was sent.
func (p *Poller) Poll(ctx context.Context) bool {
	cmd, err := p.source.Next(ctx)
	if err != nil {
		p.logger.Debug("Automation source unavailable", "error", err)
		return false
	}
	if cmd == nil {
		return false
	}

	if _, err := p.launcher.Launch(ctx, cmd.Request); err != nil {
		p.logger.Warn("Scripted launch failed", "command", cmd.Key, "error", err)
		return false
	}
	p.logger.Info("Scripted launch sent", "command", cmd.Key)
	return true
}
