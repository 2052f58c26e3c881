package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/geo"
	"github.com/missileglobe/globe-client/internal/launch"
	"github.com/missileglobe/globe-client/internal/nation"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLauncher struct {
	got launch.Request
	err error
}

func (l *stubLauncher) Launch(_ context.Context, req launch.Request) (protocol.LaunchRequest, error) {
	l.got = req
	if l.err != nil {
		return protocol.LaunchRequest{}, l.err
	}
	return protocol.LaunchRequest{City: req.City, InitialVelocity: req.Velocity}, nil
}

func newTestStore() *store.Store {
	st := store.New(store.DefaultConfig())
	st.SetLocalSession("me")
	st.SetClaimedNation("Canada")
	st.ApplyBaseAssignment("me", map[string]geo.LatLon{"Ottawa": {Lat: 45.4, Lon: -75.7}})
	return st
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(SetupRoutes(Dependencies{Store: newTestStore(), Launcher: &stubLauncher{}}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestState(t *testing.T) {
	srv := httptest.NewServer(SetupRoutes(Dependencies{Store: newTestStore(), Launcher: &stubLauncher{}}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap store.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "Canada", snap.ClaimedNation)
	assert.Equal(t, geo.LatLon{Lat: 45.4, Lon: -75.7}, snap.OwnBases["Ottawa"])
}

func TestNations_ExcludesTaken(t *testing.T) {
	st := newTestStore()
	catalog := nation.Default()
	taken := catalog.IDs()[:1]
	st.ApplyRoster(taken)

	srv := httptest.NewServer(SetupRoutes(Dependencies{Store: st, Catalog: catalog}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nations")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []nation.Nation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, len(catalog.IDs())-1)
	for _, n := range got {
		assert.NotEqual(t, taken[0], n.ID)
	}
}

func TestLaunch_Accepted(t *testing.T) {
	l := &stubLauncher{}
	srv := httptest.NewServer(SetupRoutes(Dependencies{Store: newTestStore(), Launcher: l}))
	defer srv.Close()

	body := `{"city":"Ottawa","initialVelocity":[1.2,45,30],"velocityMode":"spherical"}`
	resp, err := http.Post(srv.URL+"/launch", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, launch.Request{City: "Ottawa", Velocity: [3]float64{1.2, 45, 30}, VelocityMode: "spherical"}, l.got)
}

func TestLaunch_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed body", `{"initialVelocity":`, nil, http.StatusBadRequest},
		{"invalid velocity", `{}`, ballistics.ErrInvalidVelocity, http.StatusBadRequest},
		{"no base", `{}`, launch.ErrNoBaseAssigned, http.StatusConflict},
		{"game over", `{}`, fmt.Errorf("wrapped: %w", launch.ErrGameOver), http.StatusConflict},
		{"not connected", `{}`, connection.ErrNotConnected, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(SetupRoutes(Dependencies{Store: newTestStore(), Launcher: &stubLauncher{err: tt.err}}))
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/launch", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			var e errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestStatus_OnlyWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(SetupRoutes(Dependencies{Store: newTestStore()}))
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv2 := httptest.NewServer(SetupRoutes(Dependencies{Store: newTestStore(), Status: func() any { return map[string]int{"cycles": 3} }}))
	defer srv2.Close()
	resp, err = http.Get(srv2.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 3, got["cycles"])
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer(SetupRoutes(Dependencies{Store: newTestStore()}), nil)
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
