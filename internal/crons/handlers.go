// Package crons schedules recurring runs: REST handlers for cron CRUD and
// the in-process ticker that fires due crons.
package crons

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/langline/langline/internal/common/httpapi"
	"github.com/langline/langline/internal/common/logger"
	"github.com/langline/langline/internal/common/reqctx"
	"github.com/langline/langline/internal/storage"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	return scheduleParser.Parse(expr)
}

// Handlers provides HTTP handlers for crons.
type Handlers struct {
	store  storage.Storage
	logger *logger.Logger
}

// NewHandlers creates new cron handlers.
func NewHandlers(store storage.Storage, log *logger.Logger) *Handlers {
	return &Handlers{
		store:  store,
		logger: log.WithFields(zap.String("component", "crons-handlers")),
	}
}

// RegisterRoutes registers cron HTTP routes under /runs/crons.
func (h *Handlers) RegisterRoutes(router gin.IRouter) {
	router.POST("/runs/crons/search", h.search)
	router.POST("/runs/crons/count", h.count)
	router.POST("/runs/crons", h.create)
	router.DELETE("/runs/crons/:cron_id", h.delete)
}

type createRequest struct {
	Schedule       string         `json:"schedule"`
	AssistantID    string         `json:"assistant_id"`
	ThreadID       string         `json:"thread_id"`
	EndTime        *time.Time     `json:"end_time"`
	Payload        map[string]any `json:"payload"`
	Metadata       map[string]any `json:"metadata"`
	OnRunCompleted string         `json:"on_run_completed"`
}

func (h *Handlers) create(c *gin.Context) {
	var body createRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(body.AssistantID) == "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "assistant_id is required")
		return
	}
	schedule, err := ParseSchedule(body.Schedule)
	if err != nil {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid cron schedule: "+err.Error())
		return
	}
	now := time.Now().UTC()
	if body.EndTime != nil && !body.EndTime.After(now) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "end_time must be in the future")
		return
	}
	switch body.OnRunCompleted {
	case "", "delete", "keep":
	default:
		httpapi.Detail(c, http.StatusUnprocessableEntity, "on_run_completed must be 'delete' or 'keep'")
		return
	}

	payload := body.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if body.OnRunCompleted != "" {
		payload["on_run_completed"] = body.OnRunCompleted
	}

	identity := reqctx.Identity(c.Request.Context())
	record := &storage.Cron{
		CronID:      uuid.NewString(),
		Schedule:    body.Schedule,
		AssistantID: body.AssistantID,
		ThreadID:    body.ThreadID,
		EndTime:     body.EndTime,
		Payload:     payload,
		UserID:      identity,
		NextRunDate: schedule.Next(now),
		Metadata:    body.Metadata,
	}

	created, err := h.store.Crons().Create(c.Request.Context(), record)
	if err != nil {
		httpapi.StorageError(c, err, "Cron not found", "Cron already exists")
		return
	}
	c.JSON(http.StatusOK, created)
}

func (h *Handlers) delete(c *gin.Context) {
	if err := h.store.Crons().Delete(c.Request.Context(), c.Param("cron_id"), reqctx.Identity(c.Request.Context())); err != nil {
		httpapi.StorageError(c, err, "Cron not found", "")
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

type searchRequest struct {
	AssistantID string `json:"assistant_id"`
	ThreadID    string `json:"thread_id"`
	Limit       int    `json:"limit"`
	Offset      int    `json:"offset"`
	SortBy      string `json:"sort_by"`
	SortOrder   string `json:"sort_order"`
}

func (r searchRequest) validate() string {
	switch r.SortBy {
	case "", "cron_id", "assistant_id", "thread_id", "created_at", "updated_at", "next_run_date":
	default:
		return "sort_by must be one of: cron_id, assistant_id, thread_id, created_at, updated_at, next_run_date"
	}
	switch r.SortOrder {
	case "", "asc", "desc":
	default:
		return "sort_order must be 'asc' or 'desc'"
	}
	if r.Offset < 0 {
		return "offset must be >= 0"
	}
	return ""
}

func (r searchRequest) query() storage.CronQuery {
	return storage.CronQuery{
		AssistantID: r.AssistantID,
		ThreadID:    r.ThreadID,
		Limit:       r.Limit,
		Offset:      r.Offset,
	}
}

func (h *Handlers) search(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}
	if msg := body.validate(); msg != "" {
		httpapi.Detail(c, http.StatusUnprocessableEntity, msg)
		return
	}

	results, err := h.store.Crons().List(c.Request.Context(), body.query(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Cron not found", "")
		return
	}
	if results == nil {
		results = []*storage.Cron{}
	}
	c.JSON(http.StatusOK, results)
}

func (h *Handlers) count(c *gin.Context) {
	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		httpapi.Detail(c, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return
	}

	n, err := h.store.Crons().Count(c.Request.Context(), body.query(), reqctx.Identity(c.Request.Context()))
	if err != nil {
		httpapi.StorageError(c, err, "Cron not found", "")
		return
	}
	c.JSON(http.StatusOK, n)
}
