package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/process"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`

	Version       string  `json:"version,omitempty"`
	UptimeSeconds int64   `json:"uptime_seconds,omitempty"`
	Goroutines    int     `json:"goroutines,omitempty"`
	RSSBytes      uint64  `json:"rss_bytes,omitempty"`
	CPUPercent    float64 `json:"cpu_percent,omitempty"`
}

// handleHealth reports 503 when the database is unreachable. The cache is
// reported but never fails the check.
func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Database = "error"
		status = http.StatusServiceUnavailable
	}
	if s.deps.Cache != nil {
		resp.Cache = "ok"
		if err := s.deps.Cache.Ping(ctx); err != nil {
			resp.Cache = "error"
		}
	}

	if c.QueryParam("verbose") == "true" {
		resp.Version = s.deps.Version
		resp.UptimeSeconds = int64(time.Since(s.started).Seconds())
		resp.Goroutines = runtime.NumGoroutine()
		if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
			if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
				resp.RSSBytes = mem.RSS
			}
			if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
				resp.CPUPercent = cpu
			}
		}
	}

	return c.JSON(status, resp)
}
