package audit

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	apperrors "audittrail/internal/errors"
	"audittrail/internal/logger"
	"audittrail/internal/models"
	"audittrail/internal/uuid"
)

// Meta carries the identity and provenance stamped on every record of one
// extraction.
type Meta struct {
	ChangedBy string
	EntityID  string
	IPAddress string
	UserAgent string
	Reason    string
	// BatchID groups records written together. Empty means a new batch.
	BatchID string
}

// Extractor turns an entity transition into field-level change records.
// It is stateless apart from its configuration and safe for concurrent use.
type Extractor struct {
	catalog *Catalog
	now     func() time.Time
	newID   func() string
	metrics *Metrics
}

type ExtractorOption func(*Extractor)

func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) { e.now = now }
}

func WithIDGenerator(gen func() string) ExtractorOption {
	return func(e *Extractor) { e.newID = gen }
}

func WithExtractorMetrics(m *Metrics) ExtractorOption {
	return func(e *Extractor) { e.metrics = m }
}

func NewExtractor(catalog *Catalog, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		catalog: catalog,
		now:     time.Now,
		newID:   uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extractor) Catalog() *Catalog { return e.catalog }

// Extract compares oldEntity with newEntity and returns one record per
// tracked field whose value changed. Create ignores oldEntity and Delete
// ignores newEntity; fields that are empty on the only side present are
// skipped. Masked fields are detected on their real values; a side holding
// a value is then redacted while an absent side stays null.
func (e *Extractor) Extract(oldEntity, newEntity any, op models.OperationType, meta Meta) ([]models.ChangeRecord, error) {
	if !op.Valid() {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, fmt.Sprintf("unknown operation type %q", op))
	}
	if strings.TrimSpace(meta.EntityID) == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "entity id is required")
	}
	switch op {
	case models.OperationCreate:
		oldEntity = nil
	case models.OperationDelete:
		newEntity = nil
	}

	oldV, hasOld := indirect(oldEntity)
	newV, hasNew := indirect(newEntity)
	if !hasOld && !hasNew {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "no entity to compare")
	}
	if hasOld && hasNew && oldV.Type() != newV.Type() {
		return nil, apperrors.WithMessage(apperrors.ErrUnknownEntity,
			fmt.Sprintf("cannot compare %s with %s", oldV.Type(), newV.Type()))
	}
	var typ reflect.Type
	if hasNew {
		typ = newV.Type()
	} else {
		typ = oldV.Type()
	}
	desc, ok := e.catalog.Lookup(typ)
	if !ok {
		return nil, apperrors.WithMessage(apperrors.ErrUnknownEntity,
			fmt.Sprintf("entity type %s is not registered for auditing", typ))
	}

	changedBy := meta.ChangedBy
	if changedBy == "" {
		changedBy = SystemActor
	}
	batchID := meta.BatchID
	if batchID == "" {
		batchID = e.newID()
	}
	changedAt := e.now().UTC()

	var records []models.ChangeRecord
	for _, f := range desc.Fields {
		if f.Policy == PolicyIgnore {
			continue
		}
		oldVal := e.fieldValue(desc, f, oldV, hasOld)
		newVal := e.fieldValue(desc, f, newV, hasNew)
		if !changed(op, oldVal, newVal) {
			continue
		}
		if f.Policy == PolicyMask {
			oldVal, newVal = redact(oldVal), redact(newVal)
		}
		records = append(records, models.ChangeRecord{
			ID:            e.newID(),
			BatchID:       batchID,
			OperationType: op,
			EntityName:    desc.Name,
			EntityID:      meta.EntityID,
			PropertyName:  f.Name,
			OldValue:      oldVal.JSON(),
			NewValue:      newVal.JSON(),
			ChangedBy:     changedBy,
			IPAddress:     meta.IPAddress,
			UserAgent:     meta.UserAgent,
			ChangedAt:     changedAt,
			ChangeReason:  meta.Reason,
		})
	}
	return records, nil
}

// ExtractTyped is Extract with both sides pinned to the same entity type.
func ExtractTyped[T any](e *Extractor, oldEntity, newEntity *T, op models.OperationType, meta Meta) ([]models.ChangeRecord, error) {
	var o, n any
	if oldEntity != nil {
		o = oldEntity
	}
	if newEntity != nil {
		n = newEntity
	}
	return e.Extract(o, n, op, meta)
}

func (e *Extractor) fieldValue(desc *Descriptor, f Field, v reflect.Value, present bool) Value {
	if !present {
		return NullValue
	}
	fv, err := v.FieldByIndexErr(f.index)
	if err != nil {
		// nil embedded pointer
		return NullValue
	}
	val, err := serialize(fv.Interface())
	if err != nil {
		e.metrics.unserializable(desc.Name)
		logger.Get().Debugw("audit value replaced with marker",
			"entity_name", desc.Name,
			"property_name", f.Name,
			"error", err,
		)
	}
	return val
}

func redact(v Value) Value {
	if v.Equal(NullValue) {
		return NullValue
	}
	return RedactedValue
}

func changed(op models.OperationType, oldVal, newVal Value) bool {
	switch op {
	case models.OperationCreate:
		return !newVal.IsEmpty()
	case models.OperationDelete:
		return !oldVal.IsEmpty()
	default:
		return !oldVal.Equal(newVal)
	}
}

func indirect(entity any) (reflect.Value, bool) {
	if entity == nil {
		return reflect.Value{}, false
	}
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, true
}
