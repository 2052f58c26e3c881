package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/connection"
	"github.com/missileglobe/globe-client/internal/launch"
	"github.com/missileglobe/globe-client/internal/nation"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func State(st Snapshotter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, st.Snapshot())
	}
}

func Status(status func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, status())
	}
}

// Nations lists the nations that are still free to claim.
func Nations(st Snapshotter, catalog *nation.Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			writeJSON(w, http.StatusOK, []nation.Nation{})
			return
		}
		writeJSON(w, http.StatusOK, catalog.Available(st.Snapshot().TakenNations))
	}
}

func Launch(l Launcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req launch.Request
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid launch body"})
			return
		}

		msg, err := l.Launch(r.Context(), req)
		if err != nil {
			writeJSON(w, launchStatus(err), errorBody{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, msg)
	}
}

func launchStatus(err error) int {
	switch {
	case errors.Is(err, ballistics.ErrInvalidVelocity):
		return http.StatusBadRequest
	case errors.Is(err, launch.ErrNoBaseAssigned), errors.Is(err, launch.ErrGameOver):
		return http.StatusConflict
	case errors.Is(err, connection.ErrNotConnected), errors.Is(err, connection.ErrConnectionLost):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
