package ws

import (
	"net/http"

	"github.com/GriffinCanCode/gadgetry/internal/app"
	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Parents embed gadgets from any origin, as an iframe would
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler hosts isolated gadgets for remote parents
type Handler struct {
	pages  *app.Manager
	logger *logging.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(pages *app.Manager, logger *logging.Logger) *Handler {
	return &Handler{
		pages:  pages,
		logger: logger.Named("frames"),
	}
}

// HandleConnection upgrades the request and runs ?url= as an isolated
// gadget whose parent is the websocket peer. It returns once the gadget
// page closes.
func (h *Handler) HandleConnection(c *gin.Context) {
	url := c.Query("url")
	if err := utils.ValidateGadgetURL(url, "url"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session := c.Query("session")
	if err := utils.ValidateSession(session); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if session == "" {
		session = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already replied to the client
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.logger.Info("hosting gadget",
		zap.String("url", url),
		zap.String("session", session),
		zap.String("remote", c.ClientIP()))

	page := h.pages.HostFrame(url, session, channel.NewWebSocket(conn))
	<-page.Done()

	h.logger.Info("hosted gadget closed",
		zap.String("session", session),
		zap.String("page", string(page.ID())))
}
