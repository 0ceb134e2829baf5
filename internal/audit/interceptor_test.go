package audit_test

import (
	"context"
	"errors"
	"testing"

	"audittrail/internal/audit"
	apperrors "audittrail/internal/errors"
	"audittrail/internal/logger"
	"audittrail/internal/models"
	"audittrail/internal/testutil"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingSaver struct {
	calls   int
	batches [][]models.ChangeRecord
	err     error
}

func (s *recordingSaver) Save(_ context.Context, batch []models.ChangeRecord) error {
	s.calls++
	s.batches = append(s.batches, batch)
	return s.err
}

func TestInterceptorSavingChanges(t *testing.T) {
	ctx := audit.WithActor(context.Background(), audit.Actor{ID: "Admin", IPAddress: "10.1.1.1", UserAgent: "test", Reason: "cleanup"})

	t.Run("one_batch_per_save", func(t *testing.T) {
		saver := &recordingSaver{}
		ic := audit.NewInterceptor(newTestExtractor(t), saver)

		err := ic.SavingChanges(ctx, []audit.Entry{
			{State: audit.EntryCreated, EntityID: "1", Current: &member{Name: "Alice", Email: "a@x.com"}},
			{State: audit.EntryModified, EntityID: "2", Original: &member{Name: "Bob"}, Current: &member{Name: "Robert"}},
			{State: audit.EntryDeleted, EntityID: "3", Original: &member{Email: "c@x.com"}},
			{State: audit.EntryUnchanged, EntityID: "4", Current: &member{Name: "Same"}},
		})
		testutil.AssertNoError(t, err)

		if saver.calls != 1 {
			t.Fatalf("expected a single save, got %d", saver.calls)
		}
		batch := saver.batches[0]
		if len(batch) != 4 {
			t.Fatalf("expected 4 records, got %d", len(batch))
		}
		ops := map[string]models.OperationType{"1": models.OperationCreate, "2": models.OperationUpdate, "3": models.OperationDelete}
		for _, r := range batch {
			if r.OperationType != ops[r.EntityID] {
				t.Errorf("entity %s: expected %s, got %s", r.EntityID, ops[r.EntityID], r.OperationType)
			}
			if r.BatchID != batch[0].BatchID {
				t.Error("all records of one save must share a batch id")
			}
			if r.ChangedBy != "Admin" || r.IPAddress != "10.1.1.1" || r.UserAgent != "test" || r.ChangeReason != "cleanup" {
				t.Errorf("actor not applied: %+v", r)
			}
		}
	})

	t.Run("state_selects_snapshot", func(t *testing.T) {
		saver := &recordingSaver{}
		ic := audit.NewInterceptor(newTestExtractor(t), saver)

		err := ic.SavingChanges(ctx, []audit.Entry{
			{State: audit.EntryDeleted, EntityID: "1", Original: &member{Name: "gone"}, Current: &member{Name: "ignored"}},
		})
		testutil.AssertNoError(t, err)

		r := saver.batches[0][0]
		if string(r.NewValue) != "null" {
			t.Errorf("expected null new value on delete, got %s", r.NewValue)
		}
	})

	t.Run("default_actor", func(t *testing.T) {
		saver := &recordingSaver{}
		ic := audit.NewInterceptor(newTestExtractor(t), saver)

		err := ic.SavingChanges(context.Background(), []audit.Entry{
			{State: audit.EntryCreated, EntityID: "1", Current: &member{Name: "A"}},
		})
		testutil.AssertNoError(t, err)
		if got := saver.batches[0][0].ChangedBy; got != audit.SystemActor {
			t.Errorf("expected %s, got %s", audit.SystemActor, got)
		}
	})

	t.Run("extraction_error_skips_save", func(t *testing.T) {
		saver := &recordingSaver{}
		ic := audit.NewInterceptor(newTestExtractor(t), saver)

		err := ic.SavingChanges(ctx, []audit.Entry{
			{State: audit.EntryCreated, EntityID: "", Current: &member{Name: "A"}},
		})
		testutil.AssertAppError(t, err, "INVALID_INPUT")
		if saver.calls != 0 {
			t.Error("nothing should be saved after an extraction error")
		}
	})

	t.Run("fail_closed", func(t *testing.T) {
		saver := &recordingSaver{err: apperrors.Wrap(apperrors.ErrPersistenceWrite, errors.New("down"))}
		ic := audit.NewInterceptor(newTestExtractor(t), saver)

		err := ic.SavingChanges(ctx, []audit.Entry{
			{State: audit.EntryCreated, EntityID: "1", Current: &member{Name: "A"}},
		})
		testutil.AssertAppError(t, err, "PERSISTENCE_WRITE_ERROR")
	})

	t.Run("fail_open_logs", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		restore := logger.Replace(zap.New(core).Sugar())
		defer restore()

		saver := &recordingSaver{err: apperrors.Wrap(apperrors.ErrPersistenceWrite, errors.New("down"))}
		ic := audit.NewInterceptor(newTestExtractor(t), saver, audit.FailOpen(true))

		err := ic.SavingChanges(ctx, []audit.Entry{
			{State: audit.EntryCreated, EntityID: "1", Current: &member{Name: "A"}},
		})
		testutil.AssertNoError(t, err)

		entries := logs.All()
		if len(entries) != 1 {
			t.Fatalf("expected 1 error log, got %d", len(entries))
		}
		fields := entries[0].ContextMap()
		if fields["changed_by"] != "Admin" || fields["records"] != int64(1) {
			t.Errorf("unexpected log fields %v", fields)
		}
	})
}

func TestActorFromContext(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		if got := audit.ActorFromContext(context.Background()); got.ID != audit.SystemActor {
			t.Errorf("expected %s, got %s", audit.SystemActor, got.ID)
		}
	})

	t.Run("with_reason_keeps_actor", func(t *testing.T) {
		ctx := audit.WithActor(context.Background(), audit.Actor{ID: "u-1", IPAddress: "1.2.3.4"})
		ctx = audit.WithReason(ctx, "gdpr request")

		got := audit.ActorFromContext(ctx)
		if got.ID != "u-1" || got.IPAddress != "1.2.3.4" || got.Reason != "gdpr request" {
			t.Errorf("unexpected actor %+v", got)
		}
	})
}
