package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/queue"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
)

// Snapshotter provides consistent store copies.
type Snapshotter interface {
	Snapshot() store.Snapshot
}

// Connection reports the transport state.
type Connection interface {
	Phase() connection.Phase
	Degraded() bool
}

// Telemetry receives the same data as the storage backend.
type Telemetry interface {
	RecordSnapshot(snap store.Snapshot) error
	RecordImpacts(impacts []storage.Impact) error
}

// Flusher flushes buffered telemetry.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Store      Snapshotter
	Backend    storage.Backend
	Impacts    *queue.Queue[storage.Impact]
	Connection Connection
	Telemetry  Telemetry
	Flusher    Flusher
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is written to the status file every cycle.
type Status struct {
	Time                time.Time `json:"time"`
	Phase               string    `json:"phase"`
	Degraded            bool      `json:"degraded"`
	LocalSession        string    `json:"localSession"`
	ClaimedNation       string    `json:"claimedNation"`
	Outcome             string    `json:"outcome"`
	OwnBases            int       `json:"ownBases"`
	Bases               int       `json:"bases"`
	Missiles            int       `json:"missiles"`
	MissilesInFlight    int       `json:"missilesInFlight"`
	ImpactsWritten      int       `json:"impactsWritten"`
	ImpactsDropped      uint64    `json:"impactsDropped"`
	Cycles              int       `json:"cycles"`
	LastWriteDurationMs float32   `json:"lastWriteDurationMs"`
	LastError           string    `json:"lastError,omitempty"`
}

// Service runs the periodic persistence cycle.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}

	cycles         int
	impactsWritten int
	lastWrite      time.Duration
	lastErr        error
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 30 * time.Second
	}
	if deps.Backend == nil {
		deps.Backend = storage.Discard{}
	}
	if deps.Impacts == nil {
		deps.Impacts = queue.New[storage.Impact](0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With("component", "monitor")
	return &Service{deps: deps}
}

// IsRunning returns whether the monitor loop is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Status returns the current status.
func (s *Service) Status() Status {
	snap := s.deps.Store.Snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Time:                time.Now(),
		LocalSession:        snap.LocalSession,
		ClaimedNation:       snap.ClaimedNation,
		Outcome:             snap.Outcome.String(),
		OwnBases:            len(snap.OwnBases),
		Bases:               len(snap.Bases),
		Missiles:            len(snap.Missiles),
		ImpactsWritten:      s.impactsWritten,
		ImpactsDropped:      s.deps.Impacts.Dropped(),
		Cycles:              s.cycles,
		LastWriteDurationMs: float32(s.lastWrite.Microseconds()) / 1000,
	}
	for _, m := range snap.Missiles {
		if m.State == store.MissileInFlight {
			st.MissilesInFlight++
		}
	}
	if s.deps.Connection != nil {
		st.Phase = s.deps.Connection.Phase().String()
		st.Degraded = s.deps.Connection.Degraded()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// RunOnce persists one snapshot, drains the impact queue and rewrites the
// status file.
func (s *Service) RunOnce(ctx context.Context) error {
	start := time.Now()
	snap := s.deps.Store.Snapshot()
	impacts := s.deps.Impacts.Drain()

	var errs []error
	if err := s.deps.Backend.SaveSnapshot(ctx, snap); err != nil {
		errs = append(errs, err)
		s.deps.Logger.Error("Error persisting snapshot", "error", err)
	}
	if len(impacts) > 0 {
		if err := s.deps.Backend.RecordImpacts(ctx, impacts); err != nil {
			errs = append(errs, err)
			dropped := s.deps.Impacts.Requeue(impacts)
			s.deps.Logger.Error("Error persisting impacts, retrying next cycle", "count", len(impacts), "dropped", dropped, "error", err)
			impacts = nil
		}
	}

	if s.deps.Telemetry != nil {
		if err := s.deps.Telemetry.RecordSnapshot(snap); err != nil {
			s.deps.Logger.Warn("Error writing state telemetry", "error", err)
		}
		if err := s.deps.Telemetry.RecordImpacts(impacts); err != nil {
			s.deps.Logger.Warn("Error writing impact telemetry", "error", err)
		}
	}
	if s.deps.Flusher != nil {
		if err := s.deps.Flusher.Flush(ctx); err != nil {
			s.deps.Logger.Debug("Error flushing telemetry", "error", err)
		}
	}

	err := errors.Join(errs...)
	s.mu.Lock()
	s.cycles++
	s.impactsWritten += len(impacts)
	s.lastWrite = time.Since(start)
	s.lastErr = err
	s.mu.Unlock()

	if s.deps.StatusFile != "" {
		if werr := s.writeStatus(); werr != nil {
			s.deps.Logger.Error("Error writing status file", "path", s.deps.StatusFile, "error", werr)
		}
	}
	return err
}

func (s *Service) writeStatus() error {
	data, err := json.MarshalIndent(s.Status(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.deps.StatusFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.deps.StatusFile, append(data, '\n'), 0644)
}

// Start starts the monitor goroutine
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(ctx)
			}
		}
	}()

	return nil
}

// Stop stops the loop and runs one last cycle so nothing queued is lost.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		close(s.stopChan)
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	return s.RunOnce(ctx)
}
