// Package control serves a small local HTTP API for inspecting the client
// and issuing launches.
package control

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/missileglobe/globe-client/internal/launch"
	"github.com/missileglobe/globe-client/internal/nation"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/missileglobe/globe-client/pkg/protocol"
)

// Snapshotter provides consistent store copies.
type Snapshotter interface {
	Snapshot() store.Snapshot
}

// Launcher executes launch commands.
type Launcher interface {
	Launch(ctx context.Context, req launch.Request) (protocol.LaunchRequest, error)
}

// Dependencies holds what the handlers need.
type Dependencies struct {
	Store    Snapshotter
	Launcher Launcher
	Catalog  *nation.Catalog
	Status   func() any
}

func SetupRoutes(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/state", State(deps.Store))
	r.Get("/nations", Nations(deps.Store, deps.Catalog))
	r.Post("/launch", Launch(deps.Launcher))
	if deps.Status != nil {
		r.Get("/status", Status(deps.Status))
	}
	return r
}
