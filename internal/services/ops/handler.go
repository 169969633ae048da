package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/smartfarm/internal/logger"
	"github.com/LeonardoBeccarini/smartfarm/internal/model/messages"
	"github.com/LeonardoBeccarini/smartfarm/internal/services/inspection"
)

const (
	errInspectionDisabled = "inspection disabled"
	errTriggerFailed      = "failed to start inspection"
	errRecordsFailed      = "failed to load inspection records"
	maxRecordsLimit       = 500
)

type Inspector interface {
	Start(ctx context.Context, trigger string) (string, error)
	Status() inspection.Status
}

type InspectionHistory interface {
	LatestInspections(ctx context.Context, limit int) ([]messages.PlantInspectionRecord, error)
}

// Handler serves the operational HTTP surface.
type Handler struct {
	runCtx    context.Context
	health    *HealthChecker
	inspector Inspector
	history   InspectionHistory
	gatherer  prometheus.Gatherer
	log       *logger.Logger
}

// NewHandler takes the daemon context: manual runs outlive the HTTP request that started them.
// inspector and history may be nil.
func NewHandler(runCtx context.Context, health *HealthChecker, inspector Inspector, history InspectionHistory,
	gatherer prometheus.Gatherer, log *logger.Logger) *Handler {
	return &Handler{
		runCtx:    runCtx,
		health:    health,
		inspector: inspector,
		history:   history,
		gatherer:  gatherer,
		log:       log.Named("ops"),
	}
}

func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.healthz)
	router.GET("/readyz", h.readyz)
	if h.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	insp := router.Group("/inspection")
	{
		insp.POST("/trigger", h.triggerInspection)
		insp.GET("/status", h.inspectionStatus)
		insp.GET("/records", h.inspectionRecords)
	}
	return router
}

func (h *Handler) logAndJSONError(c *gin.Context, code int, userMsg, logKey string, err error) {
	if err != nil {
		h.log.Errorw(logKey, "err", err)
	}
	c.JSON(code, gin.H{"error": userMsg})
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Check(c.Request.Context()))
}

func (h *Handler) readyz(c *gin.Context) {
	ready := h.health.Ready(c.Request.Context())
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"ready": ready})
}

func (h *Handler) triggerInspection(c *gin.Context) {
	if h.inspector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errInspectionDisabled})
		return
	}
	runID, err := h.inspector.Start(h.runCtx, inspection.TriggerManual)
	if errors.Is(err, inspection.ErrCycleInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": h.inspector.Status()})
		return
	}
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errTriggerFailed, "trigger inspection", err)
		return
	}
	h.log.Infow("manual inspection started", "run", runID, "remote", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "run_id": runID})
}

func (h *Handler) inspectionStatus(c *gin.Context) {
	if h.inspector == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errInspectionDisabled})
		return
	}
	c.JSON(http.StatusOK, h.inspector.Status())
}

func (h *Handler) inspectionRecords(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inspection history not configured"})
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRecordsLimit)
	}
	recs, err := h.history.LatestInspections(c.Request.Context(), limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errRecordsFailed, "load inspection records", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": recs})
}
