package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/allisson/hookrelay/internal/errors"
	"github.com/allisson/hookrelay/internal/httputil"
	"github.com/allisson/hookrelay/internal/resilience"
	customValidation "github.com/allisson/hookrelay/internal/validation"
	"github.com/allisson/hookrelay/internal/webhook/http/dto"
)

// CircuitBreakers exposes the breaker registry operations used by the admin endpoints.
type CircuitBreakers interface {
	Snapshot() []resilience.Snapshot
	Reset(target string) bool
	ResetAll() int
}

// ErrCircuitBreakerNotFound indicates that no breaker exists for the requested target.
var ErrCircuitBreakerNotFound = apperrors.Wrap(apperrors.ErrNotFound, "circuit breaker not found")

// CircuitBreakerHandler inspects and resets per-target circuit breakers.
type CircuitBreakerHandler struct {
	breakers CircuitBreakers
	logger   *slog.Logger
}

// NewCircuitBreakerHandler creates a new circuit breaker handler.
func NewCircuitBreakerHandler(breakers CircuitBreakers, logger *slog.Logger) *CircuitBreakerHandler {
	return &CircuitBreakerHandler{
		breakers: breakers,
		logger:   logger,
	}
}

// ListHandler lists every known breaker with its state and window counters.
// GET /v1/admin/circuit-breakers
func (h *CircuitBreakerHandler) ListHandler(c *gin.Context) {
	c.JSON(http.StatusOK, dto.MapSnapshotsToListResponse(h.breakers.Snapshot()))
}

// ResetHandler closes one breaker, or all of them when the target is empty or the body is absent.
// POST /v1/admin/circuit-breakers/reset
func (h *CircuitBreakerHandler) ResetHandler(c *gin.Context) {
	var req dto.ResetCircuitBreakerRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	if req.Target == "" {
		count := h.breakers.ResetAll()
		h.logger.Info("circuit breakers reset", slog.Int("count", count))
		c.JSON(http.StatusOK, dto.ResetCircuitBreakersResponse{Reset: count})
		return
	}

	if !h.breakers.Reset(req.Target) {
		httputil.HandleErrorGin(c, ErrCircuitBreakerNotFound, h.logger)
		return
	}

	h.logger.Info("circuit breaker reset", slog.String("target", req.Target))
	c.JSON(http.StatusOK, dto.ResetCircuitBreakersResponse{Reset: 1})
}
