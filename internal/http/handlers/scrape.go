// Scrape control and consensus HTTP handlers.
//
// This file exposes:
//   - POST /scrape/run        (synchronous on-demand sampling pass)
//   - GET  /scrape/schedule   (scheduler status)
//   - GET  /consensus/global  (global consensus + per-account loyalty)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-market-watch/internal/http/middleware"
	"github.com/tbourn/go-market-watch/internal/services"
)

// RunScrapeResponse reports the outcome of an on-demand sampling pass.
type RunScrapeResponse struct {
	// Samples is how many (product, account) pairs yielded a stored sample.
	Samples int `json:"samples"`
}

// ScheduleStatusResponse describes the periodic sampling cadence.
type ScheduleStatusResponse struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	NextRun  string `json:"next_run"`
}

// RunScrape triggers a sampling pass immediately and blocks until it
// completes, returning the number of samples stored. If a scheduled pass is
// already in flight the request waits for it to finish first.
func (h *Handlers) RunScrape(c *gin.Context) {
	count, err := h.sched.RunNow(c.Request.Context())
	if err != nil {
		middleware.LoggerFrom(c).Error().Err(err).Msg("on-demand run failed")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "sampling run failed")
		return
	}
	ok(c, http.StatusOK, RunScrapeResponse{Samples: count})
}

// ScheduleStatus reports whether periodic sampling is enabled and at what
// cadence.
func (h *Handlers) ScheduleStatus(c *gin.Context) {
	ok(c, http.StatusOK, ScheduleStatusResponse{
		Enabled:  h.sched.Enabled,
		Interval: h.sched.Interval.String(),
		NextRun:  h.sched.NextRunHint(),
	})
}

// GlobalConsensus returns the consensus reduction over all stored samples,
// anchored at the first tracked product, together with per-account loyalty
// discount averages. With no samples stored it returns 404 with the no_data
// code.
func (h *Handlers) GlobalConsensus(c *gin.Context) {
	res, err := h.agg.RecomputeGlobal(c.Request.Context())
	switch {
	case err == nil:
		ok(c, http.StatusOK, res)
	case errors.Is(err, services.ErrNoSamples):
		fail(c, http.StatusNotFound, ErrCodeNoData, "no samples stored yet")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
