package http

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/app"
	"github.com/GriffinCanCode/gadgetry/internal/gadget"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/gadgetry/internal/shared/utils"
	"github.com/gin-gonic/gin"
)

// HeaderCrashed marks responses whose document is the crash report
const HeaderCrashed = "X-Gadget-Crashed"

const contentTypeHTML = "text/html; charset=utf-8"

// BreakerSource reports per-host fetch breaker states
type BreakerSource interface {
	BreakerStates() map[string]resilience.State
}

// Handlers contains all HTTP handlers
type Handlers struct {
	pages    *app.Manager
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	breakers BreakerSource
	started  time.Time
}

// NewHandlers creates a new handler set. breakers may be nil.
func NewHandlers(pages *app.Manager, metrics *monitoring.Metrics, tracer *tracing.Tracer, breakers BreakerSource) *Handlers {
	return &Handlers{
		pages:    pages,
		metrics:  metrics,
		tracer:   tracer,
		breakers: breakers,
		started:  time.Now(),
	}
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "gadgetry",
	})
}

// Health reports page counts, metric totals and fetch breaker states
func (h *Handlers) Health(c *gin.Context) {
	root := gin.H{"open": false}
	if page := h.pages.Root(); page != nil {
		root = gin.H{
			"open":    true,
			"url":     page.URL(),
			"crashed": page.Crashed(),
		}
	}

	breakers := map[string]string{}
	if h.breakers != nil {
		for host, state := range h.breakers.BreakerStates() {
			breakers[host] = state.String()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"pages":    h.pages.Stats(),
		"root":     root,
		"metrics":  h.metrics.Snapshot(),
		"breakers": breakers,
	})
}

// ListPages lists live pages, optionally filtered by ?kind=
func (h *Handlers) ListPages(c *gin.Context) {
	var kind *app.Kind
	if k := c.Query("kind"); k != "" {
		kk := app.Kind(k)
		kind = &kk
	}
	c.JSON(http.StatusOK, gin.H{
		"pages": h.pages.List(kind),
		"stats": h.pages.Stats(),
	})
}

// Render opens ?url= in a fresh page and returns the resulting document
func (h *Handlers) Render(c *gin.Context) {
	url := c.Query("url")
	if err := utils.ValidateGadgetURL(url, "url"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span, ctx := h.tracer.StartSpan(c.Request.Context(), "page.render")
	span.SetTag("url", url)
	defer func() {
		span.Finish()
		h.tracer.Submit(span)
	}()

	out, crashed, err := h.pages.Render(ctx, url)
	if err != nil {
		span.SetError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.document(c, out, crashed)
}

// RootPage serves the current document of the root page
func (h *Handlers) RootPage(c *gin.Context) {
	page := h.pages.Root()
	if page == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": app.ErrNoRoot.Error()})
		return
	}
	h.serve(c, page)
}

// ReloadRoot reopens the root page with a fresh class registry
func (h *Handlers) ReloadRoot(c *gin.Context) {
	if err := h.pages.Reload(c.Request.Context()); err != nil && h.pages.Root() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	h.serve(c, h.pages.Root())
}

func (h *Handlers) serve(c *gin.Context, page *gadget.Page) {
	out, err := page.Render()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.document(c, out, page.Crashed())
}

// document writes a serialized page; a crash report is served as a 500 so
// callers need not parse the body
func (h *Handlers) document(c *gin.Context, out string, crashed bool) {
	status := http.StatusOK
	if crashed {
		status = http.StatusInternalServerError
		c.Header(HeaderCrashed, "true")
	}
	c.Data(status, contentTypeHTML, []byte(out))
}
