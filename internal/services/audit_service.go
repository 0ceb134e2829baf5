package services

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"time"

	"audittrail/internal/audit"
	apperrors "audittrail/internal/errors"
	"audittrail/internal/logger"
	"audittrail/internal/models"
	"audittrail/internal/pagination"
)

// auditService handles manual change logging and change log queries.
type auditService struct {
	repo      audit.Repository
	extractor *audit.Extractor
}

// NewAuditService creates a new AuditServicer.
func NewAuditService(repo audit.Repository, extractor *audit.Extractor) AuditServicer {
	return &auditService{repo: repo, extractor: extractor}
}

// LogChange diffs the two snapshots and writes the records as one batch.
// Unlike saves through the ORM it is not tied to another transaction, so a
// write failure is returned to the caller and nothing is recorded.
func (s *auditService) LogChange(
	ctx context.Context,
	oldEntity, newEntity any,
	changedBy string,
	entityID string,
	op models.OperationType,
	prov Provenance,
) ([]models.ChangeRecord, error) {
	records, err := s.extractor.Extract(oldEntity, newEntity, op, audit.Meta{
		ChangedBy: changedBy,
		EntityID:  entityID,
		IPAddress: prov.IPAddress,
		UserAgent: prov.UserAgent,
		Reason:    prov.Reason,
	})
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, records); err != nil {
		logger.Get().Errorw("failed to write manual change records",
			"error", err,
			"entity_id", entityID,
			"records", len(records),
		)
		return nil, err
	}
	return records, nil
}

func (s *auditService) GetByEntity(ctx context.Context, entityName, entityID string) ([]models.ChangeRecord, error) {
	return s.repo.GetByEntity(ctx, entityName, entityID)
}

func (s *auditService) GetByDateRange(ctx context.Context, start, end time.Time) ([]models.ChangeRecord, error) {
	return s.repo.GetByDateRange(ctx, start, end)
}

func (s *auditService) Search(ctx context.Context, filter audit.Filter, page pagination.PageRequest) (*pagination.PageResponse[models.ChangeRecord], error) {
	return s.repo.Search(ctx, filter, page)
}

// EntityNames lists the audited entity names.
func (s *auditService) EntityNames() []string {
	return s.extractor.Catalog().Names()
}

// DecodeEntity unmarshals raw into a new value of the type registered under
// entityName. Empty input and JSON null decode to nil.
func (s *auditService) DecodeEntity(entityName string, raw []byte) (any, error) {
	desc, ok := s.extractor.Catalog().LookupName(entityName)
	if !ok {
		return nil, apperrors.ErrUnknownEntity
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	v := reflect.New(desc.Type)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "invalid "+entityName+" payload: "+err.Error())
	}
	return v.Interface(), nil
}
