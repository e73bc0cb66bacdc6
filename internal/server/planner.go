package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/chatplan/internal/pipeline"
	"github.com/mohammad-safakhou/chatplan/internal/planner"
	"github.com/mohammad-safakhou/chatplan/internal/runtime"
	"github.com/mohammad-safakhou/chatplan/provider"
)

// RunLister reads the persisted run log.
type RunLister interface {
	RecentRuns(ctx context.Context, subject string, limit int) ([]pipeline.RunRecord, error)
}

// PlannerHandler exposes the per-caller plan pipeline.
type PlannerHandler struct {
	Registry *pipeline.Registry
	Streamer provider.Streamer
	Runs     RunLister
	Logger   *zap.Logger
	// BaseContext parents every run so that runs outlive the request that
	// started them but stop on shutdown.
	BaseContext context.Context
}

func (h *PlannerHandler) Register(g *echo.Group, secret []byte, allowAnonymous bool) {
	g.Use(runtime.EchoAuthMiddleware(secret, allowAnonymous))
	g.POST("/generate", h.generate)
	g.DELETE("/generate", h.cancel)
	g.GET("/state", h.state)
	g.GET("/events", h.events)
	g.POST("/stream", h.stream)
	g.GET("/runs", h.runs)
}

func (h *PlannerHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *PlannerHandler) baseContext() context.Context {
	if h.BaseContext == nil {
		return context.Background()
	}
	return h.BaseContext
}

func subjectOf(c echo.Context) string {
	if sub, ok := runtime.SubjectFromContext(c.Request().Context()); ok {
		return sub
	}
	return runtime.AnonymousSubject
}

// generate starts a run for the caller and returns immediately.
func (h *PlannerHandler) generate(c echo.Context) error {
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}
	run := h.Registry.For(subjectOf(c)).Start(h.baseContext(), req.Prompt)
	return c.JSON(http.StatusAccepted, GenerateResponse{RunID: run.ID})
}

func (h *PlannerHandler) cancel(c echo.Context) error {
	ctrl, ok := h.Registry.Lookup(subjectOf(c))
	if !ok {
		return c.JSON(http.StatusOK, CancelResponse{})
	}
	return c.JSON(http.StatusOK, CancelResponse{Cancelled: ctrl.Cancel()})
}

// state reports the caller's snapshot. A caller without a controller has
// never started a run, so it sees the idle state and none is created.
func (h *PlannerHandler) state(c echo.Context) error {
	ctrl, ok := h.Registry.Lookup(subjectOf(c))
	if !ok {
		return c.JSON(http.StatusOK, pipeline.State{})
	}
	return c.JSON(http.StatusOK, ctrl.State())
}

// events streams state snapshots as Server-Sent Events until the client goes
// away. Slow clients skip intermediate snapshots.
func (h *PlannerHandler) events(c echo.Context) error {
	ctx := c.Request().Context()
	shutdown := h.baseContext().Done()
	updates, stop := h.Registry.For(subjectOf(c)).Subscribe()
	defer stop()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-shutdown:
			return nil
		case st, ok := <-updates:
			if !ok {
				return nil
			}
			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(resp, "event: state\ndata: %s\n\n", data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

// stream relays raw model text for one request without reconstruction or
// validation. Nothing is written to the caller's pipeline state.
func (h *PlannerHandler) stream(c echo.Context) error {
	var req StreamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	preq, err := planner.BuildRequest(planner.UserPrompt(req.UserPrompt), planner.PromptOptions{
		SearchMode: req.SearchMode,
		Model:      req.Model,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	chunks, err := h.Streamer.Stream(ctx, preq)
	if err != nil {
		var te *provider.TransportError
		if errors.As(err, &te) {
			return echo.NewHTTPError(http.StatusBadGateway, te.Error())
		}
		return err
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.WriteHeader(http.StatusOK)
	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return nil
			}
			if chunk.Err != nil {
				// the status line is already written
				h.logger().Warn("relay aborted", zap.String("subject", subjectOf(c)), zap.Error(chunk.Err))
				return nil
			}
			if _, err := resp.Write(chunk.Data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

func (h *PlannerHandler) runs(c echo.Context) error {
	if h.Runs == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run log disabled")
	}
	limit := 20
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	recs, err := h.Runs.RecentRuns(c.Request().Context(), subjectOf(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := RunsResponse{Runs: make([]RunItem, 0, len(recs))}
	for _, rec := range recs {
		out.Runs = append(out.Runs, runItem(rec))
	}
	return c.JSON(http.StatusOK, out)
}
