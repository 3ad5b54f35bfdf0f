package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RefatHex/ResQ/internal/alerting"
	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/internal/repository"
	"github.com/RefatHex/ResQ/internal/stream"
)

type ReportService interface {
	CreateReport(ctx context.Context, actor models.Actor, in alerting.CreateReportInput) (*models.Report, error)
	UpdateStatus(ctx context.Context, actor models.Actor, reportID, status string) (*models.Report, error)
	GetReport(ctx context.Context, actor models.Actor, id string) (*models.Report, error)
	ListReports(ctx context.Context, actor models.Actor, filter repository.ReportFilter) ([]models.Report, error)
	NearbyReports(ctx context.Context, actor models.Actor, center models.Coordinate, radiusKm float64) ([]alerting.NearbyReport, error)
	ListTags(ctx context.Context) ([]models.Tag, error)
	CreateTag(ctx context.Context, actor models.Actor, tag *models.Tag) error
	TagStats(ctx context.Context, actor models.Actor) ([]models.TagStat, error)
}

type SubjectStore interface {
	repository.LocationRepository
	repository.ChannelRepository
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	reports     ReportService
	subjects    SubjectStore
	broadcaster *stream.Broadcaster
}

func NewHandler(reports ReportService, subjects SubjectStore, broadcaster *stream.Broadcaster) *Handler {
	RegisterValidators()
	return &Handler{
		reports:     reports,
		subjects:    subjects,
		broadcaster: broadcaster,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	api := r.Group("/api", IdentityMiddleware())
	api.POST("/reports", h.createReport)
	api.GET("/reports", h.listReports)
	api.GET("/reports/nearby", h.nearbyReports)
	api.GET("/reports/:id", h.getReport)
	api.POST("/reports/:id/status", h.updateStatus)
	api.GET("/tags", h.listTags)
	api.POST("/tags", h.createTag)
	api.GET("/stats/tags", h.tagStats)
	api.POST("/locations", h.recordLocation)
	api.POST("/devices", h.registerDevice)
	api.DELETE("/devices/:token", h.removeDevice)
	api.GET("/notifications", h.listNotifications)
	api.GET("/notifications/stream", h.streamNotifications)
}

type createReportRequest struct {
	Latitude     *float64 `json:"latitude" binding:"required,lat"`
	Longitude    *float64 `json:"longitude" binding:"required,lng"`
	ReporterType string   `json:"reporter_type" binding:"omitempty,oneof=SPECTATOR VICTIM"`
	ReportType   string   `json:"report_type" binding:"omitempty,oneof=FIRE ACCIDENT NATURAL_DISASTER"`
	Description  string   `json:"description" binding:"max=2000"`
	IsEmergency  bool     `json:"is_emergency"`
	Tags         []string `json:"tags" binding:"omitempty,max=10,dive,required,max=50"`
	RadiusKm     float64  `json:"radius_km"`
}

func (h *Handler) createReport(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	report, err := h.reports.CreateReport(c.Request.Context(), actorFrom(c), alerting.CreateReportInput{
		ReporterType: models.ReporterType(req.ReporterType),
		ReportType:   models.ReportType(req.ReportType),
		Location:     models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		Description:  req.Description,
		IsEmergency:  req.IsEmergency,
		Tags:         req.Tags,
		RadiusKm:     req.RadiusKm,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

func (h *Handler) listReports(c *gin.Context) {
	filter := repository.ReportFilter{
		Limit: 20, // Default to 20 reports if limit param not supplied
	}

	if s := c.Query("status"); s != "" {
		status := models.ReportStatus(s)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
			return
		}
		filter.Status = &status
	}
	if t := c.Query("reporter_type"); t != "" {
		rt := models.ReporterType(t)
		if !rt.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown reporter_type"})
			return
		}
		filter.ReporterType = &rt
	}
	if em := c.Query("is_emergency"); em != "" {
		if b, err := strconv.ParseBool(em); err == nil {
			filter.IsEmergency = &b
		}
	}
	filter.Query = c.Query("q")
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			filter.Limit = lim
		}
	}
	if o := c.Query("offset"); o != "" {
		if off, err := strconv.Atoi(o); err == nil && off >= 0 {
			filter.Offset = off
		}
	}

	reports, err := h.reports.ListReports(c.Request.Context(), actorFrom(c), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, reportsToGeoJSON(reports))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
}

func (h *Handler) getReport(c *gin.Context) {
	report, err := h.reports.GetReport(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	report, err := h.reports.UpdateStatus(c.Request.Context(), actorFrom(c), c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type nearbyQuery struct {
	Latitude  *float64 `form:"lat" binding:"required,lat"`
	Longitude *float64 `form:"lng" binding:"required,lng"`
	RadiusKm  float64  `form:"radius"`
}

func (h *Handler) nearbyReports(c *gin.Context) {
	var q nearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeBindError(c, err)
		return
	}

	center := models.Coordinate{Latitude: *q.Latitude, Longitude: *q.Longitude}
	nearby, err := h.reports.NearbyReports(c.Request.Context(), actorFrom(c), center, q.RadiusKm)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, nearbyToGeoJSON(nearby))
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required,lat"`
	Longitude *float64 `json:"longitude" binding:"required,lng"`
}

func (h *Handler) listTags(c *gin.Context) {
	tags, err := h.reports.ListTags(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

type createTagRequest struct {
	Name          string `json:"name" binding:"required,max=50"`
	Description   string `json:"description" binding:"max=500"`
	EmergencyType string `json:"emergency_type" binding:"omitempty,oneof=FIRE ACCIDENT NATURAL_DISASTER"`
}

func (h *Handler) createTag(c *gin.Context) {
	var req createTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	tag := &models.Tag{
		Name:          req.Name,
		Description:   req.Description,
		EmergencyType: models.ReportType(req.EmergencyType),
	}
	if err := h.reports.CreateTag(c.Request.Context(), actorFrom(c), tag); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func (h *Handler) tagStats(c *gin.Context) {
	stats, err := h.reports.TagStats(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": stats})
}

func (h *Handler) recordLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	sample := &models.LocationSample{
		SubjectID:  actorFrom(c).SubjectID,
		Location:   models.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		RecordedAt: time.Now().UTC(),
	}
	if err := h.subjects.RecordLocation(c.Request.Context(), sample); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sample)
}

type deviceRequest struct {
	Token    string `json:"token" binding:"required,max=4096"`
	Platform string `json:"platform" binding:"omitempty,oneof=fcm"`
}

func (h *Handler) registerDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	ch := &models.Channel{
		SubjectID: actorFrom(c).SubjectID,
		Token:     req.Token,
		Platform:  req.Platform,
	}
	if err := h.subjects.RegisterChannel(c.Request.Context(), ch); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *Handler) removeDevice(c *gin.Context) {
	if err := h.subjects.RemoveChannel(c.Request.Context(), actorFrom(c).SubjectID, c.Param("token")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listNotifications(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 500 {
			limit = lim
		}
	}

	notifications, err := h.subjects.ListNotifications(c.Request.Context(), actorFrom(c).SubjectID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "count": len(notifications)})
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.subjects.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
