// Package admin serves the broker's read-only operator surfaces: an HTTP
// API with Prometheus metrics and a gRPC health service.
package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/ot-databroker/internal/broker"
	"github.com/signalsfoundry/ot-databroker/internal/ipc"
	"github.com/signalsfoundry/ot-databroker/internal/logging"
	"github.com/signalsfoundry/ot-databroker/internal/observability"
	"github.com/signalsfoundry/ot-databroker/model"
)

// Dependencies holds what the handlers read from.
type Dependencies struct {
	Session   *broker.Session
	Stats     *broker.StepStats
	Sems      *ipc.Bank
	Metrics   *observability.BrokerCollector
	Role      string
	Simulator model.SimulatorSpec
	Version   string
}

type handlers struct {
	deps Dependencies
}

// NewRouter builds the echo instance with every admin route registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h := &handlers{deps: deps}
	e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))

	api := e.Group("/api")
	api.GET("/health", h.health)
	api.GET("/session", h.session)
	api.GET("/points", h.points)
	api.GET("/points/msgpack", h.pointsMsgpack)
	return e
}

func (h *handlers) stopped() bool {
	return h.deps.Sems != nil && h.deps.Sems.IsStopped()
}

func (h *handlers) health(c echo.Context) error {
	status := "ok"
	if h.stopped() {
		status = "stopping"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  status,
		"version": h.deps.Version,
	})
}

type sessionResponse struct {
	SessionID string                 `json:"session_id"`
	Started   bool                   `json:"started"`
	Stopped   bool                   `json:"stopped"`
	Role      string                 `json:"role"`
	Simulator string                 `json:"simulator"`
	External  bool                   `json:"external_simulator"`
	Metadata  *model.SessionMetadata `json:"metadata,omitempty"`
	Step      uint64                 `json:"step"`
	SimTime   float64                `json:"sim_time"`
	Pacing    *broker.StepSummary    `json:"pacing,omitempty"`
}

func (h *handlers) session(c echo.Context) error {
	meta, started := h.deps.Session.Metadata()
	snap := h.deps.Session.Snapshot()
	resp := sessionResponse{
		SessionID: h.deps.Session.ID,
		Started:   started,
		Stopped:   h.stopped(),
		Role:      h.deps.Role,
		Simulator: h.deps.Simulator.Executable,
		External:  h.deps.Simulator.External(),
		Step:      snap.Step,
		SimTime:   snap.SimTime,
	}
	if started {
		resp.Metadata = &meta
	}
	if h.deps.Stats != nil {
		sum := h.deps.Stats.Summary()
		resp.Pacing = &sum
	}
	return c.JSON(http.StatusOK, resp)
}

// pointsSnapshot applies the optional ?table=publish|update filter.
func (h *handlers) pointsSnapshot(c echo.Context) (model.Snapshot, error) {
	snap := h.deps.Session.Snapshot()
	switch c.QueryParam("table") {
	case "":
	case "publish":
		snap.Update = nil
	case "update":
		snap.Publish = nil
	default:
		return model.Snapshot{}, echo.NewHTTPError(http.StatusBadRequest, "table must be publish or update")
	}
	return snap, nil
}

func (h *handlers) points(c echo.Context) error {
	snap, err := h.pointsSnapshot(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *handlers) pointsMsgpack(c echo.Context) error {
	snap, err := h.pointsSnapshot(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to encode msgpack"})
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// Serve starts e on addr in the background.
func Serve(addr string, e *echo.Echo, log logging.Logger) *http.Server {
	log = logging.OrNoop(log)
	srv := &http.Server{
		Addr:    addr,
		Handler: e,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "admin server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving admin API and Prometheus metrics", logging.String("addr", addr))
	return srv
}
