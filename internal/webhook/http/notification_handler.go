package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allisson/hookrelay/internal/httputil"
	customValidation "github.com/allisson/hookrelay/internal/validation"
	"github.com/allisson/hookrelay/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// NotificationHandler handles the administrative notification endpoints.
type NotificationHandler struct {
	notificationUseCase webhookUseCase.NotificationUseCase
	logger              *slog.Logger
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(
	notificationUseCase webhookUseCase.NotificationUseCase,
	logger *slog.Logger,
) *NotificationHandler {
	return &NotificationHandler{
		notificationUseCase: notificationUseCase,
		logger:              logger,
	}
}

// ListHandler lists notifications with optional filters and pagination.
// GET /v1/notifications?status=&subscription_id=&event_name=&offset=0&limit=50
func (h *NotificationHandler) ListHandler(c *gin.Context) {
	offset, limit, err := httputil.ParsePagination(c)
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	query := dto.ListNotificationsQuery{
		Status:         c.Query("status"),
		SubscriptionID: c.Query("subscription_id"),
		EventName:      c.Query("event_name"),
	}
	if err := query.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	records, err := h.notificationUseCase.List(c.Request.Context(), query.Filter(), offset, limit)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapNotificationsToListResponse(records))
}

// GetHandler retrieves a notification by id.
// GET /v1/notifications/:id
func (h *NotificationHandler) GetHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	record, err := h.notificationUseCase.Get(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapNotificationToResponse(record))
}

// StatsHandler reports notification counts per status.
// GET /v1/notifications/stats
func (h *NotificationHandler) StatsHandler(c *gin.Context) {
	counts, err := h.notificationUseCase.Stats(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapStatsToResponse(counts))
}

// RedeliverHandler queues a fresh copy of a DELIVERED or DEAD notification.
// POST /v1/notifications/:id/redeliver
// Returns 201 Created with the new record, 409 Conflict when the original is not terminal.
func (h *NotificationHandler) RedeliverHandler(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	record, err := h.notificationUseCase.Redeliver(c.Request.Context(), id)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusCreated, dto.MapNotificationToResponse(record))
}

// DeleteForSubscriptionHandler removes every notification of a subscription.
// DELETE /v1/subscriptions/:id/notifications
func (h *NotificationHandler) DeleteForSubscriptionHandler(c *gin.Context) {
	subscriptionID, err := dto.ParseSubscriptionID(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(c, err, h.logger)
		return
	}

	deleted, err := h.notificationUseCase.DeleteForSubscription(c.Request.Context(), subscriptionID)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.DeleteNotificationsResponse{Deleted: deleted})
}

func (h *NotificationHandler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.HandleValidationErrorGin(c, fmt.Errorf("invalid notification id format"), h.logger)
		return uuid.Nil, false
	}
	return id, true
}
