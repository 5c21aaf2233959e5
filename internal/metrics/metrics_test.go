package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainCounters(t *testing.T) {
	m := New()
	m.Signup()
	m.Login(true)
	m.Login(false)
	m.Login(false)
	m.ExpensesCreated(3)
	m.ChatMessage("pricing")
	m.ReferralConversion()

	assert.Equal(t, 1.0, counterValue(t, m.signups))
	assert.Equal(t, 2.0, counterValue(t, m.logins.WithLabelValues("failure")))
	assert.Equal(t, 3.0, counterValue(t, m.expenses))
	assert.Equal(t, 1.0, counterValue(t, m.chatMessages.WithLabelValues("pricing")))
	assert.Equal(t, 1.0, counterValue(t, m.conversions))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Signup()
	m.Login(true)
	m.ChatMessage("greeting")
	m.JobRun("purge", true)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/expenses/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/expenses/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2.0, counterValue(t, m.httpRequests.WithLabelValues("GET", "/api/expenses/:id", "200")))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "cora_http_requests_total")
}

func TestMiddlewarePassesErrorsOn(t *testing.T) {
	m := New()
	e := echo.New()

	var seen []error
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			seen = append(seen, err)
			return err
		}
	})
	e.Use(m.Middleware())
	e.GET("/teapot", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/teapot", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	require.Len(t, seen, 2)
	assert.Error(t, seen[0])
	assert.EqualError(t, seen[1], "boom")
	assert.Equal(t, 1.0, counterValue(t, m.httpRequests.WithLabelValues("GET", "/teapot", "418")))
	assert.Equal(t, 1.0, counterValue(t, m.httpRequests.WithLabelValues("GET", "/boom", "500")))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, c.Write(&metric))
	return metric.GetCounter().GetValue()
}
