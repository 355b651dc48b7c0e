package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gatepass-api/internal/dto"
	"github.com/noah-isme/gatepass-api/internal/models"
	"github.com/noah-isme/gatepass-api/internal/workflow"
	appErrors "github.com/noah-isme/gatepass-api/pkg/errors"
	"github.com/noah-isme/gatepass-api/pkg/response"
)

type gatePassService interface {
	Create(ctx context.Context, req dto.CreateGatePassRequest, actor workflow.Actor) (*models.GatePassRequest, error)
	List(ctx context.Context, query dto.GatePassQuery, actor workflow.Actor) ([]models.GatePassRequest, *models.Pagination, error)
	Get(ctx context.Context, id string, actor workflow.Actor) (*models.GatePassRequest, error)
	Decide(ctx context.Context, id string, req dto.DecisionRequest, actor workflow.Actor) (*models.GatePassRequest, error)
	Summary(ctx context.Context, actor workflow.Actor) (*dto.GatePassSummary, error)
}

type tokenScanner interface {
	Scan(ctx context.Context, key string, actor workflow.Actor) (*dto.ScanResult, error)
}

type slipProvider interface {
	Link(ctx context.Context, requestID string, actor workflow.Actor) (*dto.SlipLink, error)
	Download(ctx context.Context, token string) ([]byte, string, error)
}

// GatePassHandler exposes the gate pass workflow over HTTP.
type GatePassHandler struct {
	gatepasses gatePassService
	tokens     tokenScanner
	slips      slipProvider
}

// NewGatePassHandler constructs the handler.
func NewGatePassHandler(gatepasses gatePassService, tokens tokenScanner, slips slipProvider) *GatePassHandler {
	return &GatePassHandler{gatepasses: gatepasses, tokens: tokens, slips: slips}
}

// Create godoc
// @Summary Submit a gate pass request
// @Description Students submit a request; working-hour departures start at the class incharge, others at the warden.
// @Tags GatePasses
// @Accept json
// @Produce json
// @Param payload body dto.CreateGatePassRequest true "Gate pass payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /gatepasses [post]
func (h *GatePassHandler) Create(c *gin.Context) {
	var req dto.CreateGatePassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid gate pass payload"))
		return
	}
	created, err := h.gatepasses.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List godoc
// @Summary List gate pass requests
// @Tags GatePasses
// @Produce json
// @Param status query string false "pending|approved|rejected|cancelled"
// @Param stage query string false "class_incharge|hod|dean|vc|warden|completed"
// @Param studentId query string false "Student ID"
// @Param actedByMe query bool false "Only requests the caller acted on"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /gatepasses [get]
func (h *GatePassHandler) List(c *gin.Context) {
	var query dto.GatePassQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return
	}
	items, pagination, err := h.gatepasses.List(c.Request.Context(), query, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Summary godoc
// @Summary Count gate pass requests by status in the caller's scope
// @Tags GatePasses
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /gatepasses/summary [get]
func (h *GatePassHandler) Summary(c *gin.Context) {
	summary, err := h.gatepasses.Summary(c.Request.Context(), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Get godoc
// @Summary Get a gate pass request
// @Tags GatePasses
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /gatepasses/{id} [get]
func (h *GatePassHandler) Get(c *gin.Context) {
	request, err := h.gatepasses.Get(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Decide godoc
// @Summary Forward, approve or reject the current stage
// @Tags GatePasses
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /gatepasses/{id}/decision [post]
func (h *GatePassHandler) Decide(c *gin.Context) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid decision payload"))
		return
	}
	updated, err := h.gatepasses.Decide(c.Request.Context(), c.Param("id"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, updated, nil)
}

// Scan godoc
// @Summary Redeem a gate pass token at the gate
// @Tags GatePasses
// @Accept json
// @Produce json
// @Param payload body dto.ScanRequest true "Scanned key"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 410 {object} response.Envelope
// @Failure 429 {object} response.Envelope
// @Router /gatepasses/tokens/scan [post]
func (h *GatePassHandler) Scan(c *gin.Context) {
	var req dto.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "key is required"))
		return
	}
	result, err := h.tokens.Scan(c.Request.Context(), req.Key, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SlipLink godoc
// @Summary Get a signed link to the printable pass
// @Tags GatePasses
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /gatepasses/{id}/slip [get]
func (h *GatePassHandler) SlipLink(c *gin.Context) {
	link, err := h.slips.Link(c.Request.Context(), c.Param("id"), actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// DownloadSlip godoc
// @Summary Download the printable pass PDF
// @Tags GatePasses
// @Produce application/pdf
// @Param token path string true "Signed slip token"
// @Success 200 {file} binary
// @Failure 401 {object} response.Envelope
// @Router /gatepasses/slips/{token} [get]
func (h *GatePassHandler) DownloadSlip(c *gin.Context) {
	payload, filename, err := h.slips.Download(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, "application/pdf", payload)
}
