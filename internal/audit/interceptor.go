package audit

import (
	"context"

	"audittrail/internal/logger"
	"audittrail/internal/models"
)

// EntryState is the pending state of a tracked entity in a save.
type EntryState int

const (
	EntryUnchanged EntryState = iota
	EntryCreated
	EntryModified
	EntryDeleted
)

func (s EntryState) String() string {
	switch s {
	case EntryCreated:
		return "created"
	case EntryModified:
		return "modified"
	case EntryDeleted:
		return "deleted"
	default:
		return "unchanged"
	}
}

func (s EntryState) operation() (models.OperationType, bool) {
	switch s {
	case EntryCreated:
		return models.OperationCreate, true
	case EntryModified:
		return models.OperationUpdate, true
	case EntryDeleted:
		return models.OperationDelete, true
	}
	return "", false
}

// Entry is one entity about to be committed. Original is the last persisted
// snapshot and Current the pending one; the side that does not exist for
// the state is ignored.
type Entry struct {
	State    EntryState
	EntityID string
	Original any
	Current  any
}

// Interceptor turns the pending entries of one save into a single audit
// batch and persists it before the save commits.
type Interceptor struct {
	extractor *Extractor
	saver     Saver
	failOpen  bool
}

type InterceptorOption func(*Interceptor)

// FailOpen makes audit write failures non-fatal: they are logged and the
// save proceeds without its records.
func FailOpen(enabled bool) InterceptorOption {
	return func(i *Interceptor) { i.failOpen = enabled }
}

func NewInterceptor(extractor *Extractor, saver Saver, opts ...InterceptorOption) *Interceptor {
	i := &Interceptor{extractor: extractor, saver: saver}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SavingChanges records every created, modified and deleted entry. The
// returned error must abort the surrounding save.
func (i *Interceptor) SavingChanges(ctx context.Context, entries []Entry) error {
	actor := ActorFromContext(ctx)
	batchID := i.extractor.newID()

	var batch []models.ChangeRecord
	for _, entry := range entries {
		op, ok := entry.State.operation()
		if !ok {
			continue
		}
		records, err := i.extractor.Extract(entry.Original, entry.Current, op, Meta{
			ChangedBy: actor.ID,
			EntityID:  entry.EntityID,
			IPAddress: actor.IPAddress,
			UserAgent: actor.UserAgent,
			Reason:    actor.Reason,
			BatchID:   batchID,
		})
		if err != nil {
			return err
		}
		batch = append(batch, records...)
	}

	if err := i.saver.Save(ctx, batch); err != nil {
		if !i.failOpen {
			return err
		}
		logger.Get().Errorw("audit batch dropped, continuing save",
			"error", err,
			"batch_id", batchID,
			"records", len(batch),
			"changed_by", actor.ID,
		)
	}
	return nil
}
