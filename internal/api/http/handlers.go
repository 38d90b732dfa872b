package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
)

// StatusSource reports supervisor state.
type StatusSource interface {
	Status() supervisor.Status
}

// Info describes the bundled server for the admin endpoints.
type Info struct {
	Name    string
	Version string
	Prefix  string
}

// Handlers contains the admin HTTP handlers
type Handlers struct {
	source  StatusSource
	info    Info
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(source StatusSource, info Info) *Handlers {
	return &Handlers{source: source, info: info, started: time.Now()}
}

// Root describes the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "meshbridge",
		"server":  h.info.Name,
		"version": h.info.Version,
		"prefix":  h.info.Prefix,
	})
}

// Health reports 200 while the embedded server is ready and 503 otherwise.
// A booting server is unhealthy; load balancers should retry.
func (h *Handlers) Health(c *gin.Context) {
	st := h.source.Status()

	code, status := http.StatusOK, "healthy"
	if st.State != supervisor.StateReady {
		code, status = http.StatusServiceUnavailable, "unavailable"
	}

	c.JSON(code, gin.H{
		"status":     status,
		"supervisor": st,
		"uptime":     time.Since(h.started).Round(time.Second).String(),
	})
}
