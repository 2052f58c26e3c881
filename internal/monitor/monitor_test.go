package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/queue"
	"github.com/missileglobe/globe-client/internal/storage"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu        sync.Mutex
	snapshots []store.Snapshot
	impacts   []storage.Impact
	err       error
	impactErr error
}

func (b *fakeBackend) Init() error  { return nil }
func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) SaveSnapshot(_ context.Context, snap store.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, snap)
	return b.err
}

func (b *fakeBackend) RecordImpacts(_ context.Context, impacts []storage.Impact) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.impactErr != nil {
		return b.impactErr
	}
	b.impacts = append(b.impacts, impacts...)
	return nil
}

func (b *fakeBackend) snapshotCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots)
}

type fakeTelemetry struct {
	snapshots int
	impacts   int
}

func (f *fakeTelemetry) RecordSnapshot(store.Snapshot) error { f.snapshots++; return nil }
func (f *fakeTelemetry) RecordImpacts(i []storage.Impact) error {
	f.impacts += len(i)
	return nil
}

type fakeConn struct{}

func (fakeConn) Phase() connection.Phase { return connection.Joined }
func (fakeConn) Degraded() bool          { return true }

func newStore() *store.Store {
	st := store.New(store.DefaultConfig())
	st.SetLocalSession("me")
	st.SetClaimedNation("Brazil")
	st.ApplyBaseAssignment("me", map[string]geo.LatLon{"Rio": {Lat: -22.9, Lon: -43.2}})
	return st
}

func TestRunOnce_PersistsAndDrains(t *testing.T) {
	backend := &fakeBackend{}
	tel := &fakeTelemetry{}
	impacts := queue.New[storage.Impact](4)
	impacts.Push(storage.Impact{MissileID: 1}, storage.Impact{MissileID: 2})
	statusPath := filepath.Join(t.TempDir(), "status", "status.json")

	svc := NewService(Dependencies{
		Store:      newStore(),
		Backend:    backend,
		Impacts:    impacts,
		Connection: fakeConn{},
		Telemetry:  tel,
		StatusFile: statusPath,
	})
	require.NoError(t, svc.RunOnce(context.Background()))

	require.Len(t, backend.snapshots, 1)
	assert.Equal(t, "Brazil", backend.snapshots[0].ClaimedNation)
	assert.Len(t, backend.impacts, 2)
	assert.Equal(t, 0, impacts.Len())
	assert.Equal(t, 1, tel.snapshots)
	assert.Equal(t, 2, tel.impacts)

	data, err := os.ReadFile(statusPath)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, "joined", st.Phase)
	assert.True(t, st.Degraded)
	assert.Equal(t, 1, st.OwnBases)
	assert.Equal(t, 2, st.ImpactsWritten)
	assert.Equal(t, 1, st.Cycles)
}

func TestRunOnce_BackendErrorReported(t *testing.T) {
	backend := &fakeBackend{err: errors.New("disk full")}
	svc := NewService(Dependencies{Store: newStore(), Backend: backend})

	err := svc.RunOnce(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, "disk full", svc.Status().LastError)
}

func TestRunOnce_FailedImpactsRetriedNextCycle(t *testing.T) {
	backend := &fakeBackend{impactErr: errors.New("database is locked")}
	tel := &fakeTelemetry{}
	impacts := queue.New[storage.Impact](8)
	impacts.Push(storage.Impact{MissileID: 1}, storage.Impact{MissileID: 2})

	svc := NewService(Dependencies{Store: newStore(), Backend: backend, Impacts: impacts, Telemetry: tel})
	require.ErrorContains(t, svc.RunOnce(context.Background()), "database is locked")
	assert.Equal(t, 2, impacts.Len(), "failed impacts are requeued")
	assert.Equal(t, 0, tel.impacts)
	assert.Equal(t, 0, svc.Status().ImpactsWritten)

	impacts.Push(storage.Impact{MissileID: 3})
	backend.mu.Lock()
	backend.impactErr = nil
	backend.mu.Unlock()

	require.NoError(t, svc.RunOnce(context.Background()))
	require.Len(t, backend.impacts, 3)
	assert.Equal(t, int64(1), backend.impacts[0].MissileID)
	assert.Equal(t, int64(3), backend.impacts[2].MissileID)
	assert.Equal(t, 3, tel.impacts)
	assert.Equal(t, 3, svc.Status().ImpactsWritten)
}

func TestStartStop(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewService(Dependencies{Store: newStore(), Backend: backend, Interval: 10 * time.Millisecond})

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool { return backend.snapshotCount() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop(context.Background()))
	assert.False(t, svc.IsRunning())
	n := backend.snapshotCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, backend.snapshotCount())
}

func TestStop_WithoutStartFlushes(t *testing.T) {
	backend := &fakeBackend{}
	svc := NewService(Dependencies{Store: newStore(), Backend: backend})
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, 1, backend.snapshotCount())
}
