// Package http provides the run status surface of the archiver
package http

import (
	"context"
	stdhttp "net/http"

	perr "archiver/internal/platform/errors"
	"archiver/internal/platform/metrics"
	phttp "archiver/internal/platform/net/http"
	"archiver/internal/services/archiver/domain"
)

// HealthFunc reports backend readiness
type HealthFunc func(ctx context.Context) error

// Register mounts status endpoints on the given router
func Register(r phttp.Router, status domain.StatusPort, health HealthFunc) {
	h := &handlers{status: status, health: health}

	phttp.GetJSON(r, "/healthz", h.healthz)

	r.Route("/v1", func(v phttp.Router) {
		// snapshot of the running or last run
		phttp.GetJSON(v, "/run", h.run)
	})

	r.Handle("/metrics", metrics.Handler())
	phttp.MountDocs(r, OpenAPI)
}

type handlers struct {
	status domain.StatusPort
	health HealthFunc
}

// swagger:route GET /healthz Status healthz
// @Summary Backend readiness
// @Tags Status
// @Produce json
// @Success 200 {object} map[string]string "ok"
// @Failure 503 {object} phttp.Envelope "a backend is down"
// @Router /healthz [get]
func (h *handlers) healthz(r *stdhttp.Request) (any, error) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "backend unavailable")
		}
	}
	return map[string]string{"status": "ok"}, nil
}

// swagger:route GET /v1/run Status currentRun
// @Summary Current or last run snapshot
// @Tags Status
// @Produce json
// @Success 200 {object} domain.RunSnapshot "ok"
// @Failure 404 {object} phttp.Envelope "no run yet"
// @Router /v1/run [get]
func (h *handlers) run(*stdhttp.Request) (any, error) {
	snap, ok := h.status.Current()
	if !ok {
		return nil, perr.NotFoundf("no run started by this process")
	}
	return snap, nil
}
