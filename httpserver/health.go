package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ruteri/attachment-store/common"
)

// storageCheckTimeout bounds the availability probe of each storage backend
// on /readyz.
const storageCheckTimeout = 5 * time.Second

// HealthResponse is the body of the health endpoints.
type HealthResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version,omitempty"`
	Unavailable []string `json:"unavailable_storages,omitempty"`
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	srv.handler.writeJSON(w, http.StatusOK, HealthResponse{Status: "alive", Version: common.Version})
}

// handleReadinessCheck fails while draining and while any registered storage
// backend reports itself unavailable.
func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Load() {
		srv.handler.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "draining"})
		return
	}

	if down := srv.unavailableStorages(r.Context()); len(down) > 0 {
		srv.handler.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "not ready", Unavailable: down})
		return
	}
	srv.handler.writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}

func (srv *Server) unavailableStorages(ctx context.Context) []string {
	reg := srv.handler.svc.Registry()

	var down []string
	for _, name := range reg.StorageBackendNames() {
		backend, ok := reg.StorageBackend(name)
		if !ok {
			continue
		}
		checkCtx, cancel := context.WithTimeout(ctx, storageCheckTimeout)
		available := backend.Available(checkCtx)
		cancel()
		if !available {
			srv.log.Warn("Storage backend unavailable", slog.String("storage", name))
			down = append(down, name)
		}
	}
	return down
}

// handleDrain marks the server as not ready and holds the request for the
// drain duration, so load balancers stop routing uploads before shutdown.
func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if !srv.isReady.Swap(false) {
		srv.handler.writeJSON(w, http.StatusOK, HealthResponse{Status: "already draining"})
		return
	}

	srv.log.Info("Server marked as not ready, draining", slog.Duration("duration", srv.cfg.DrainDuration))
	select {
	case <-time.After(srv.cfg.DrainDuration):
		srv.log.Info("Drain period completed")
	case <-r.Context().Done():
	}
	srv.handler.writeJSON(w, http.StatusOK, HealthResponse{Status: "draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if srv.isReady.Swap(true) {
		srv.handler.writeJSON(w, http.StatusOK, HealthResponse{Status: "already ready"})
		return
	}

	srv.log.Info("Server marked as ready")
	srv.handler.writeJSON(w, http.StatusOK, HealthResponse{Status: "ready"})
}
