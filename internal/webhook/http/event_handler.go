// Package http provides HTTP handlers for change event ingestion, notification administration
// and circuit breaker inspection.
package http

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allisson/hookrelay/internal/httputil"
	customValidation "github.com/allisson/hookrelay/internal/validation"
	"github.com/allisson/hookrelay/internal/webhook/http/dto"
	webhookUseCase "github.com/allisson/hookrelay/internal/webhook/usecase"
)

// maxEnvelopeBytes bounds the size of a posted change envelope.
const maxEnvelopeBytes = 1 << 20

// EventHandler accepts change envelopes over HTTP.
type EventHandler struct {
	ingestUseCase webhookUseCase.IngestUseCase
	logger        *slog.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(ingestUseCase webhookUseCase.IngestUseCase, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		ingestUseCase: ingestUseCase,
		logger:        logger,
	}
}

// IngestHandler decodes one change envelope and creates its notifications.
// POST /v1/events
// Returns 202 Accepted with the ingest result, 422 when the envelope is malformed.
func (h *EventHandler) IngestHandler(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxEnvelopeBytes))
	if err != nil {
		httputil.HandleBadRequestGin(c, fmt.Errorf("failed to read request body: %w", err), h.logger)
		return
	}

	req := dto.IngestEventRequest{Envelope: body}
	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	result, err := h.ingestUseCase.Ingest(c.Request.Context(), req.Envelope)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusAccepted, dto.MapIngestResultToResponse(result))
}
