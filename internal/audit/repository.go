package audit

import (
	"context"
	"strings"
	"time"

	apperrors "audittrail/internal/errors"
	"audittrail/internal/models"
	"audittrail/internal/pagination"

	"gorm.io/gorm"
)

const defaultBatchSize = 100

// Saver persists a batch of change records atomically.
type Saver interface {
	Save(ctx context.Context, batch []models.ChangeRecord) error
}

// Filter narrows Search results. Zero fields match everything.
type Filter struct {
	EntityName    string
	EntityID      string
	OperationType models.OperationType
	ChangedBy     string
	BatchID       string
	PropertyName  string
	From          *time.Time
	To            *time.Time
}

// Repository is the append-only store of change records. It deliberately
// offers no way to update or delete a record.
type Repository interface {
	Saver
	GetByEntity(ctx context.Context, entityName, entityID string) ([]models.ChangeRecord, error)
	GetByDateRange(ctx context.Context, start, end time.Time) ([]models.ChangeRecord, error)
	Search(ctx context.Context, filter Filter, page pagination.PageRequest) (*pagination.PageResponse[models.ChangeRecord], error)
}

type RepositoryOption func(*gormRepository)

// WithBatchSize caps the rows per INSERT statement.
func WithBatchSize(n int) RepositoryOption {
	return func(r *gormRepository) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithRepositoryMetrics(m *Metrics) RepositoryOption {
	return func(r *gormRepository) { r.metrics = m }
}

type gormRepository struct {
	db        *gorm.DB
	batchSize int
	metrics   *Metrics
}

// NewRepository returns a Repository backed by db. When db is bound to an
// open transaction the records join it.
func NewRepository(db *gorm.DB, opts ...RepositoryOption) Repository {
	r := &gormRepository{db: db, batchSize: defaultBatchSize}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *gormRepository) Save(ctx context.Context, batch []models.ChangeRecord) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		r.metrics.writeFailed()
		return apperrors.Wrap(apperrors.ErrPersistenceWrite, err)
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&batch, r.batchSize).Error
	})
	if err != nil {
		r.metrics.writeFailed()
		return apperrors.Wrap(apperrors.ErrPersistenceWrite, err)
	}
	r.metrics.written(len(batch))
	return nil
}

func (r *gormRepository) GetByEntity(ctx context.Context, entityName, entityID string) ([]models.ChangeRecord, error) {
	if strings.TrimSpace(entityName) == "" || strings.TrimSpace(entityID) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "entity name and entity id are required")
	}

	var records []models.ChangeRecord
	err := r.db.WithContext(ctx).
		Where("entity_name = ? AND entity_id = ?", entityName, entityID).
		Order("changed_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return records, nil
}

// GetByDateRange returns records with start <= changed_at <= end. Both
// bounds are compared in UTC.
func (r *gormRepository) GetByDateRange(ctx context.Context, start, end time.Time) ([]models.ChangeRecord, error) {
	if start.IsZero() || end.IsZero() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "start and end are required")
	}
	if start.After(end) {
		return nil, apperrors.ErrInvalidDateRange
	}

	var records []models.ChangeRecord
	err := r.db.WithContext(ctx).
		Where("changed_at >= ? AND changed_at <= ?", start.UTC(), end.UTC()).
		Order("changed_at ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return records, nil
}

func (r *gormRepository) Search(ctx context.Context, filter Filter, page pagination.PageRequest) (*pagination.PageResponse[models.ChangeRecord], error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, apperrors.ErrInvalidDateRange
	}
	if filter.OperationType != "" && !filter.OperationType.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "unknown operation type")
	}
	page.Normalize()

	query := r.db.WithContext(ctx).Model(&models.ChangeRecord{})
	if filter.EntityName != "" {
		query = query.Where("entity_name = ?", filter.EntityName)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.OperationType != "" {
		query = query.Where("operation_type = ?", filter.OperationType)
	}
	if filter.ChangedBy != "" {
		query = query.Where("changed_by = ?", filter.ChangedBy)
	}
	if filter.BatchID != "" {
		query = query.Where("batch_id = ?", filter.BatchID)
	}
	if filter.PropertyName != "" {
		query = query.Where("property_name = ?", filter.PropertyName)
	}
	if filter.From != nil {
		query = query.Where("changed_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("changed_at <= ?", filter.To.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	var records []models.ChangeRecord
	if err := query.Scopes(pagination.Paginate(page, "changed_at ASC", "id ASC")).Find(&records).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	resp := pagination.NewPageResponse(records, page.Page, page.PageSize, total)
	return &resp, nil
}
