package ballistics

import (
	"context"
	"sync"
	"time"

	"github.com/missileglobe/globe-client/internal/geo"
)

// TerminateFunc is called once when a flight impacts or expires.
type TerminateFunc func(id int64, state State, impact geo.Vec3)

// FinishFunc is called once when a flight's sample buffer has fully drained
// or its context is cancelled.
type FinishFunc func(id int64)

// Fly ticks t on its own ticker until it is finished or ctx is done.
func Fly(ctx context.Context, id int64, t *Trajectory, onTerminate TerminateFunc) {
	ticker := time.NewTicker(t.cfg.Step)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done := t.Tick()
			if !reported {
				if impact, terminal := t.Impact(); terminal {
					reported = true
					if onTerminate != nil {
						onTerminate(id, t.State(), impact)
					}
				}
			}
			if done {
				return
			}
		}
	}
}

// Fleet runs one independently cancellable flight per missile.
type Fleet struct {
	mu       sync.Mutex
	flights  map[int64]*flight
	wg       sync.WaitGroup
	onFinish FinishFunc
}

type flight struct {
	trajectory *Trajectory
	cancel     context.CancelFunc
}

// NewFleet creates an empty fleet. onFinish may be nil.
func NewFleet(onFinish FinishFunc) *Fleet {
	return &Fleet{
		flights:  make(map[int64]*flight),
		onFinish: onFinish,
	}
}

// Launch starts flying t under id. A flight already registered under id is
// cancelled and replaced.
func (f *Fleet) Launch(ctx context.Context, id int64, t *Trajectory, onTerminate TerminateFunc) {
	fctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	if prev, ok := f.flights[id]; ok {
		prev.cancel()
	}
	fl := &flight{trajectory: t, cancel: cancel}
	f.flights[id] = fl
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer cancel()
		Fly(fctx, id, t, onTerminate)

		f.mu.Lock()
		if cur, ok := f.flights[id]; ok && cur == fl {
			delete(f.flights, id)
		}
		f.mu.Unlock()
		if f.onFinish != nil {
			f.onFinish(id)
		}
	}()
}

// Trajectory returns the trajectory flying under id.
func (f *Fleet) Trajectory(id int64) (*Trajectory, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.flights[id]
	if !ok {
		return nil, false
	}
	return fl.trajectory, true
}

// Cancel stops the flight registered under id.
func (f *Fleet) Cancel(id int64) {
	f.mu.Lock()
	fl, ok := f.flights[id]
	f.mu.Unlock()
	if ok {
		fl.cancel()
	}
}

// Len returns the number of running flights.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flights)
}

// Stop cancels every flight and waits for their goroutines.
func (f *Fleet) Stop() {
	f.mu.Lock()
	for _, fl := range f.flights {
		fl.cancel()
	}
	f.mu.Unlock()
	f.wg.Wait()
}
