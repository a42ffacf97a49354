package ops

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/exposure-reporter/internal/errors"
	"github.com/p-blackswan/exposure-reporter/internal/health"
	"github.com/p-blackswan/exposure-reporter/internal/reporter"
	"github.com/p-blackswan/exposure-reporter/internal/requestid"
	"github.com/p-blackswan/exposure-reporter/internal/store"
)

// CycleRunner runs reporting cycles.
type CycleRunner interface {
	Run(ctx context.Context) (bool, error)
	Status() reporter.Status
}

// StateReader exposes the persisted reporter state.
type StateReader interface {
	LastRun(ctx context.Context) (*time.Time, error)
	LastReportedExposure(ctx context.Context) (*time.Time, error)
	ListCycles(ctx context.Context, limit int) ([]*store.Cycle, error)
	DBSizeBytes() (int64, error)
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Reporter             reporter.Status   `json:"reporter"`
	LastRun              *time.Time        `json:"last_run,omitempty"`
	NextRun              *time.Time        `json:"next_run,omitempty"`
	LastReportedExposure *time.Time        `json:"last_reported_exposure,omitempty"`
	Cycles               []*store.Cycle    `json:"cycles"`
	Checks               map[string]string `json:"checks"`
	DBSizeBytes          int64             `json:"db_size_bytes"`
	Uptime               string            `json:"uptime"`
}

// ReportResponse is the body of POST /api/v1/report.
type ReportResponse struct {
	Accepted bool            `json:"accepted"`
	Ran      *bool           `json:"ran,omitempty"`
	Status   reporter.Status `json:"status"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	runner      CycleRunner
	state       StateReader
	checker     *health.Checker
	minInterval time.Duration
	baseCtx     context.Context
	logger      zerolog.Logger
	startTime   time.Time

	wg sync.WaitGroup
}

// NewHandlers creates a new Handlers instance. Background cycles started by
// the report endpoint run under baseCtx.
func NewHandlers(baseCtx context.Context, runner CycleRunner, state StateReader, checker *health.Checker, minInterval time.Duration, logger zerolog.Logger) *Handlers {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Handlers{
		runner:      runner,
		state:       state,
		checker:     checker,
		minInterval: minInterval,
		baseCtx:     baseCtx,
		logger:      logger.With().Str("component", "ops_handlers").Logger(),
		startTime:   time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.UserContext())
	if !health.Ready(results) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": results,
		})
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// GetStatus handles GET /api/v1/status.
func (h *Handlers) GetStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	lastRun, err := h.state.LastRun(ctx)
	if err != nil {
		return h.storeError(c, err)
	}
	marker, err := h.state.LastReportedExposure(ctx)
	if err != nil {
		return h.storeError(c, err)
	}
	cycles, err := h.state.ListCycles(ctx, c.QueryInt("limit", 20))
	if err != nil {
		return h.storeError(c, err)
	}
	if cycles == nil {
		cycles = []*store.Cycle{}
	}
	size, err := h.state.DBSizeBytes()
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to read database size")
	}

	checks := make(map[string]string)
	for name, s := range h.checker.Last() {
		checks[name] = string(s)
	}

	resp := StatusResponse{
		Reporter:             h.runner.Status(),
		LastRun:              lastRun,
		LastReportedExposure: marker,
		Cycles:               cycles,
		Checks:               checks,
		DBSizeBytes:          size,
		Uptime:               time.Since(h.startTime).Round(time.Second).String(),
	}
	if lastRun != nil {
		next := lastRun.Add(h.minInterval)
		resp.NextRun = &next
	}
	return c.JSON(resp)
}

// TriggerReport handles POST /api/v1/report. The cycle runs in the background
// unless ?wait=true is given; the scheduling gate applies either way.
func (h *Handlers) TriggerReport(c *fiber.Ctx) error {
	reqID := requestid.FromFiber(c)

	if c.QueryBool("wait", false) {
		ctx := requestid.WithRequestID(c.UserContext(), reqID)
		ran, err := h.runner.Run(ctx)
		if errors.Is(err, perrors.ErrCycleInFlight) {
			return problemResponse(c, fiber.StatusConflict,
				"cycle_in_flight", "Conflict",
				"A reporting cycle is already running")
		}
		if err != nil {
			return problemResponse(c, fiber.StatusBadGateway,
				"cycle_failed", "Bad Gateway", err.Error())
		}
		return c.JSON(ReportResponse{Accepted: true, Ran: &ran, Status: h.runner.Status()})
	}

	if h.runner.Status().Running {
		return problemResponse(c, fiber.StatusConflict,
			"cycle_in_flight", "Conflict",
			"A reporting cycle is already running")
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx := requestid.WithRequestID(h.baseCtx, reqID)
		if _, err := h.runner.Run(ctx); err != nil && !errors.Is(err, perrors.ErrCycleInFlight) {
			h.logger.Warn().Err(err).Str("request_id", reqID).Msg("manually triggered cycle failed")
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(ReportResponse{Accepted: true, Status: h.runner.Status()})
}

// Wait blocks until background cycles started by TriggerReport return.
func (h *Handlers) Wait() {
	h.wg.Wait()
}

func (h *Handlers) storeError(c *fiber.Ctx, err error) error {
	h.logger.Error().Err(err).Str("path", c.Path()).Msg("state store read failed")
	return problemResponse(c, fiber.StatusInternalServerError,
		"store_error", "Internal Server Error",
		"Failed to read reporter state")
}
