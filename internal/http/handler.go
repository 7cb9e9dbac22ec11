package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parkgate/internal/config"
	"parkgate/internal/domain/gate"
	"parkgate/internal/service"
)

type Handler struct {
	gateService *service.GateService
	config      *config.Config
	log         zerolog.Logger
}

func NewHandler(
	gateService *service.GateService,
	cfg *config.Config,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		gateService: gateService,
		config:      cfg,
		log:         log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/detections", h.ingestDetection)
		public.GET("/identities", h.listIdentities)
		public.GET("/identities/:id/status", h.identityStatus)
		public.GET("/identities/:id/toggles", h.listToggles)
		public.GET("/sessions", h.listSessions)
	}

	// Protected endpoints
	protected := r.Group("/api/v1/admin")
	protected.Use(authMiddleware)
	{
		protected.POST("/sweep", h.runSweep)
		protected.POST("/retry/drain", h.drainRetries)
		protected.GET("/drops", h.cameraDrops)
	}
}

func (h *Handler) ingestDetection(c *gin.Context) {
	var ev gate.RawDetectionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	ack, err := h.gateService.IngestDetection(c.Request.Context(), ev)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "ok",
		"event_id": ack.EventID,
		"accepted": ack.Accepted,
	})
}

func (h *Handler) listIdentities(c *gin.Context) {
	plateQuery := strings.TrimSpace(c.Query("plate"))
	if plateQuery == "" {
		c.JSON(http.StatusBadRequest, errorResponse("plate parameter is required"))
		return
	}
	fuzzy := c.Query("fuzzy") == "true"

	identities, err := h.gateService.FindIdentities(plateQuery, fuzzy)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(identities))
}

func (h *Handler) identityStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid identity id"))
		return
	}

	status, err := h.gateService.IdentityStatus(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) listToggles(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid identity id"))
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	toggles, err := h.gateService.ToggleHistory(c.Request.Context(), id, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(toggles))
}

func (h *Handler) listSessions(c *gin.Context) {
	var status *string
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		status = &s
	}
	var identityID *string
	if id := strings.TrimSpace(c.Query("identity_id")); id != "" {
		identityID = &id
	}

	var from, to *string
	if f := strings.TrimSpace(c.Query("from")); f != "" {
		from = &f
	}
	if t := strings.TrimSpace(c.Query("to")); t != "" {
		to = &t
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	sessions, err := h.gateService.FindSessions(c.Request.Context(), status, identityID, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(sessions))
}

func (h *Handler) runSweep(c *gin.Context) {
	orphaned, err := h.gateService.RunSweep(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"orphaned": orphaned,
	})
}

func (h *Handler) drainRetries(c *gin.Context) {
	replayed, err := h.gateService.DrainRetryQueue(c.Request.Context())
	if err != nil {
		// Partial drains still report what got through.
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "drain incomplete",
			"replayed": replayed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"replayed": replayed,
	})
}

func (h *Handler) cameraDrops(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.gateService.CameraDropCounts()))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
