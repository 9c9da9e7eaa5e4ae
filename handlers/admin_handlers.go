package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/kbchat/logger"
	"github.com/kbchat/services"
)

type AdminHandlers struct {
	ingestionService services.IngestionService
	db               *gorm.DB
	redisClient      *redis.Client
	logger           *logger.Logger
}

func NewAdminHandlers(ingestionService services.IngestionService, db *gorm.DB, redisClient *redis.Client, log *logger.Logger) *AdminHandlers {
	return &AdminHandlers{
		ingestionService: ingestionService,
		db:               db,
		redisClient:      redisClient,
		logger:           log,
	}
}

// IngestDatabase handles POST /admin/ingest/:database_id, running a
// full sync of one registered database.
func (h *AdminHandlers) IngestDatabase(c *gin.Context) {
	databaseID := c.Param("database_id")

	report, err := h.ingestionService.IngestDatabase(c.Request.Context(), databaseID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownDatabase) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Database not registered"})
			return
		}
		h.logger.Error("database ingest failed", "database_id", databaseID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingest failed"})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Health handles GET /health.
func (h *AdminHandlers) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		checks["database"] = "down"
		status = http.StatusServiceUnavailable
	} else {
		checks["database"] = "up"
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(c.Request.Context()).Err(); err != nil {
			checks["redis"] = "down"
		} else {
			checks["redis"] = "up"
		}
	}

	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}
