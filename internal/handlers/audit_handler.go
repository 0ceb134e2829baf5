package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"audittrail/internal/audit"
	apperrors "audittrail/internal/errors"
	"audittrail/internal/models"
	"audittrail/internal/pagination"
	"audittrail/internal/services"
)

// AuditHandler serves the change log.
type AuditHandler struct {
	auditService services.AuditServicer
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(auditService services.AuditServicer) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// SearchQuery holds the optional change log filters.
type SearchQuery struct {
	EntityName    string `form:"entity_name" binding:"max=255"`
	EntityID      string `form:"entity_id" binding:"max=255"`
	OperationType string `form:"operation_type" binding:"omitempty,operation_type"`
	ChangedBy     string `form:"changed_by" binding:"max=255"`
	BatchID       string `form:"batch_id" binding:"max=64"`
	PropertyName  string `form:"property_name" binding:"max=255"`
	From          string `form:"from"`
	To            string `form:"to"`
}

// ManualChangeRequest records a change made outside the ORM. Old and New are
// JSON snapshots of the registered entity type.
type ManualChangeRequest struct {
	EntityName    string          `json:"entity_name" binding:"required"`
	EntityID      string          `json:"entity_id" binding:"required,max=255"`
	OperationType string          `json:"operation_type" binding:"required,operation_type"`
	Old           json.RawMessage `json:"old" swaggertype:"object"`
	New           json.RawMessage `json:"new" swaggertype:"object"`
	Reason        string          `json:"reason" binding:"max=1000"`
}

// ListEntities returns the audited entity names
// @Summary     List audited entities
// @Tags        audit
// @Produce     json
// @Security    BearerAuth
// @Success     200 {object} map[string][]string "Entity names"
// @Router      /audit/entities [get]
func (h *AuditHandler) ListEntities(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entities": h.auditService.EntityNames()})
}

// GetEntityHistory returns every change of one entity instance
// @Summary     Entity history
// @Description Get all change records of one entity instance, oldest first
// @Tags        audit
// @Produce     json
// @Security    BearerAuth
// @Param       entity path string true "Entity name, e.g. User"
// @Param       id     path string true "Entity ID"
// @Success     200 {array}  models.ChangeRecord "Change records"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /audit/entities/{entity}/{id} [get]
func (h *AuditHandler) GetEntityHistory(c *gin.Context) {
	records, err := h.auditService.GetByEntity(c.Request.Context(), c.Param("entity"), c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// GetByDateRange returns changes made in a time window
// @Summary     Changes in a time range
// @Description Get all change records with from <= changed_at <= to, oldest first
// @Tags        audit
// @Produce     json
// @Security    BearerAuth
// @Param       from query string true "Start (RFC3339 or YYYY-MM-DD)"
// @Param       to   query string true "End (RFC3339 or YYYY-MM-DD)"
// @Success     200 {array}  models.ChangeRecord "Change records"
// @Failure     400 {object} ErrorResponse "Invalid input or range"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /audit [get]
func (h *AuditHandler) GetByDateRange(c *gin.Context) {
	from, err := requiredTime(c, "from")
	if err != nil {
		respondWithError(c, err)
		return
	}
	to, err := requiredTime(c, "to")
	if err != nil {
		respondWithError(c, err)
		return
	}

	records, err := h.auditService.GetByDateRange(c.Request.Context(), from, to)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Search filters the change log
// @Summary     Search change records
// @Description Filter change records by entity, operation, actor, batch, property and time, paginated
// @Tags        audit
// @Produce     json
// @Security    BearerAuth
// @Param       entity_name    query string false "Entity name"
// @Param       entity_id      query string false "Entity ID"
// @Param       operation_type query string false "Create, Update or Delete"
// @Param       changed_by     query string false "Actor"
// @Param       batch_id       query string false "Batch ID"
// @Param       property_name  query string false "Property name"
// @Param       from           query string false "Start (RFC3339 or YYYY-MM-DD)"
// @Param       to             query string false "End (RFC3339 or YYYY-MM-DD)"
// @Param       page           query int    false "Page number (default 1)"
// @Param       page_size      query int    false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.ChangeRecord] "Paginated change records"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Router      /audit/search [get]
func (h *AuditHandler) Search(c *gin.Context) {
	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	var q SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	filter := audit.Filter{
		EntityName:    q.EntityName,
		EntityID:      q.EntityID,
		OperationType: models.OperationType(q.OperationType),
		ChangedBy:     q.ChangedBy,
		BatchID:       q.BatchID,
		PropertyName:  q.PropertyName,
	}
	if q.From != "" {
		from, err := parseFlexibleTime(q.From)
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
			return
		}
		filter.From = &from
	}
	if q.To != "" {
		to, err := parseFlexibleTime(q.To)
		if err != nil {
			respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
			return
		}
		filter.To = &to
	}

	result, err := h.auditService.Search(c.Request.Context(), filter, page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// LogChange records a change made outside the ORM
// @Summary     Record a manual change
// @Description Diff two JSON snapshots of a registered entity and store the resulting records as one batch
// @Tags        audit
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       request body ManualChangeRequest true "Snapshots and identity"
// @Success     201 {array}  models.ChangeRecord "Stored change records"
// @Failure     400 {object} ErrorResponse "Invalid input or unknown entity"
// @Failure     401 {object} ErrorResponse "Unauthorized"
// @Failure     500 {object} ErrorResponse "Change log write failed"
// @Router      /audit/changes [post]
func (h *AuditHandler) LogChange(c *gin.Context) {
	var req ManualChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	oldEntity, err := h.auditService.DecodeEntity(req.EntityName, req.Old)
	if err != nil {
		respondWithError(c, err)
		return
	}
	newEntity, err := h.auditService.DecodeEntity(req.EntityName, req.New)
	if err != nil {
		respondWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	actor := audit.ActorFromContext(ctx)
	reason := req.Reason
	if reason == "" {
		reason = actor.Reason
	}

	records, err := h.auditService.LogChange(ctx, oldEntity, newEntity, actor.ID, req.EntityID,
		models.OperationType(req.OperationType),
		services.Provenance{IPAddress: actor.IPAddress, UserAgent: actor.UserAgent, Reason: reason},
	)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"records": records})
}

func requiredTime(c *gin.Context, param string) (time.Time, error) {
	raw := c.Query(param)
	if raw == "" {
		return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidInput, param+" is required")
	}
	t, err := parseFlexibleTime(raw)
	if err != nil {
		return time.Time{}, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error())
	}
	return t, nil
}
