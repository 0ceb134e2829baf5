package audit_test

import (
	"context"
	"errors"
	"testing"

	"audittrail/internal/audit"
	"audittrail/internal/database"
	"audittrail/internal/logger"
	"audittrail/internal/models"
	"audittrail/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func properties(records []models.ChangeRecord) map[string]models.ChangeRecord {
	return byProperty(records)
}

func TestPluginCreate(t *testing.T) {
	db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
	defer testutil.TeardownTestDB(t, db)

	user := testutil.CreateTestUser(t, db)
	records := testutil.ChangeRecordsFor(t, db, "User", user.ID)

	got := properties(records)
	for _, prop := range []string{"ID", "CreatedAt", "Email", "Password", "FirstName", "LastName", "IsActive"} {
		r, ok := got[prop]
		if !ok {
			t.Errorf("expected record for %s", prop)
			continue
		}
		if r.OperationType != models.OperationCreate || string(r.OldValue) != "null" {
			t.Errorf("%s: expected create with null old value, got %s %s", prop, r.OperationType, r.OldValue)
		}
	}
	for _, prop := range []string{"UpdatedAt", "DeletedAt", "RefreshTokenHash", "FailedLoginAttempts", "LastLoginAt"} {
		if _, ok := got[prop]; ok {
			t.Errorf("unexpected record for %s", prop)
		}
	}
	if string(got["Password"].NewValue) != `"*****"` {
		t.Errorf("expected masked password, got %s", got["Password"].NewValue)
	}
	if got["Email"].ChangedBy != audit.SystemActor {
		t.Errorf("expected %s, got %s", audit.SystemActor, got["Email"].ChangedBy)
	}

	batch := records[0].BatchID
	for _, r := range records {
		if r.BatchID != batch {
			t.Error("records of one insert must share a batch id")
		}
	}
}

func TestPluginUpdate(t *testing.T) {
	t.Run("updates_map", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		ctx := audit.WithActor(context.Background(), audit.Actor{ID: "Admin"})
		if err := db.WithContext(ctx).Model(user).Updates(map[string]any{"first_name": "Alicia", "last_name": "User"}).Error; err != nil {
			t.Fatalf("update failed: %v", err)
		}

		var updates []models.ChangeRecord
		for _, r := range testutil.ChangeRecordsFor(t, db, "User", user.ID) {
			if r.OperationType == models.OperationUpdate {
				updates = append(updates, r)
			}
		}
		if len(updates) != 1 {
			t.Fatalf("expected 1 update record, got %d", len(updates))
		}
		r := updates[0]
		if r.PropertyName != "FirstName" || string(r.OldValue) != `"Test"` || string(r.NewValue) != `"Alicia"` {
			t.Errorf("unexpected record %s: %s -> %s", r.PropertyName, r.OldValue, r.NewValue)
		}
		if r.ChangedBy != "Admin" {
			t.Errorf("expected Admin, got %s", r.ChangedBy)
		}
	})

	t.Run("save_masks_password", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		user.Password = "another-hash"
		if err := db.Save(user).Error; err != nil {
			t.Fatalf("save failed: %v", err)
		}

		var updates []models.ChangeRecord
		for _, r := range testutil.ChangeRecordsFor(t, db, "User", user.ID) {
			if r.OperationType == models.OperationUpdate {
				updates = append(updates, r)
			}
		}
		if len(updates) != 1 || updates[0].PropertyName != "Password" {
			t.Fatalf("expected a single Password record, got %v", properties(updates))
		}
		if string(updates[0].OldValue) != `"*****"` || string(updates[0].NewValue) != `"*****"` {
			t.Errorf("password leaked: %s -> %s", updates[0].OldValue, updates[0].NewValue)
		}
	})

	t.Run("no_change_no_records", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		before := len(testutil.ChangeRecordsFor(t, db, "User", user.ID))

		if err := db.Model(user).Update("first_name", user.FirstName).Error; err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if after := len(testutil.ChangeRecordsFor(t, db, "User", user.ID)); after != before {
			t.Errorf("expected no new records, got %d", after-before)
		}
	})

	t.Run("conditional_update_records_each_matched_row", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		first := testutil.CreateTestProduct(t, db, user.ID)
		second := testutil.CreateTestProduct(t, db, user.ID)
		if err := db.Model(second).Update("stock", 3).Error; err != nil {
			t.Fatalf("update failed: %v", err)
		}

		if err := db.Model(&models.Product{}).Where("stock = ?", 10).Update("stock", 5).Error; err != nil {
			t.Fatalf("conditional update failed: %v", err)
		}

		stock := testutil.ByProperty(testutil.ChangeRecordsFor(t, db, "Product", first.ID), models.OperationUpdate)
		r, ok := stock["Stock"]
		if !ok {
			t.Fatal("expected Stock update record for the matched product")
		}
		testutil.AssertValues(t, r, "10", "5")

		var untouched int
		for _, r := range testutil.ChangeRecordsFor(t, db, "Product", second.ID) {
			if r.OperationType == models.OperationUpdate && string(r.NewValue) == "5" {
				untouched++
			}
		}
		if untouched != 0 {
			t.Errorf("unmatched product must not be recorded, got %d records", untouched)
		}
	})

	t.Run("conditional_update_by_id", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		if err := db.Model(&models.User{}).Where("id = ?", user.ID).Update("first_name", "X").Error; err != nil {
			t.Fatalf("update failed: %v", err)
		}

		updates := testutil.ByProperty(testutil.ChangeRecordsFor(t, db, "User", user.ID), models.OperationUpdate)
		if len(updates) != 1 {
			t.Fatalf("expected 1 update record, got %d", len(updates))
		}
		testutil.AssertValues(t, updates["FirstName"], `"Test"`, `"X"`)
	})
}

func TestPluginDelete(t *testing.T) {
	t.Run("by_entity", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)
		product := testutil.CreateTestProduct(t, db, user.ID)

		if err := db.Delete(product).Error; err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		got := testutil.ByProperty(testutil.ChangeRecordsFor(t, db, "Product", product.ID), models.OperationDelete)
		if r, ok := got["SKU"]; !ok || string(r.OldValue) != `"`+product.SKU+`"` || string(r.NewValue) != "null" {
			t.Errorf("expected SKU delete record, got %+v", r)
		}
		if r, ok := got["Tags"]; !ok || string(r.OldValue) != `["tools"]` {
			t.Errorf("expected Tags delete record, got %+v", r)
		}
		if _, ok := got["Description"]; ok {
			t.Error("empty description must not be recorded on delete")
		}
	})

	t.Run("by_condition", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		user := testutil.CreateTestUser(t, db)

		if err := db.Delete(&models.User{}, "id = ?", user.ID).Error; err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		got := testutil.ByProperty(testutil.ChangeRecordsFor(t, db, "User", user.ID), models.OperationDelete)
		if len(got) == 0 {
			t.Fatal("expected delete records")
		}
		testutil.AssertValues(t, got["Email"], `"`+user.Email+`"`, "null")
		testutil.AssertValues(t, got["Password"], `"*****"`, "null")
	})

	t.Run("by_condition_matching_nothing", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)

		if err := db.Delete(&models.User{}, "email = ?", "nobody@test.com").Error; err != nil {
			t.Fatalf("delete failed: %v", err)
		}

		var count int64
		db.Model(&models.ChangeRecord{}).Count(&count)
		if count != 0 {
			t.Errorf("expected no change records, got %d", count)
		}
	})
}

func TestPluginSnapshotLocking(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	plugin, _, err := database.NewAuditPlugin(database.AuditOptions{})
	require.NoError(t, err)
	require.NoError(t, db.Use(plugin))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE .*FOR UPDATE`).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err = db.Delete(&models.User{Base: models.Base{ID: "0190a8c4-0000-7000-8000-000000000001"}}).Error
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPluginTransactions(t *testing.T) {
	t.Run("outer_rollback_discards_records", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)

		err := db.Transaction(func(tx *gorm.DB) error {
			user := &models.User{Email: "rollback@test.com", Password: "x", IsActive: true}
			if err := tx.Create(user).Error; err != nil {
				return err
			}
			return errors.New("abort")
		})
		if err == nil {
			t.Fatal("expected the transaction to fail")
		}

		var count int64
		db.Model(&models.ChangeRecord{}).Count(&count)
		if count != 0 {
			t.Errorf("expected no change records after rollback, got %d", count)
		}
	})

	t.Run("fail_closed_aborts_save", func(t *testing.T) {
		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{})
		defer testutil.TeardownTestDB(t, db)
		if err := db.Migrator().DropTable(&models.ChangeRecord{}); err != nil {
			t.Fatalf("failed to drop table: %v", err)
		}

		err := db.Create(&models.User{Email: "closed@test.com", Password: "x", IsActive: true}).Error
		testutil.AssertAppError(t, err, "PERSISTENCE_WRITE_ERROR")

		var count int64
		db.Model(&models.User{}).Where("email = ?", "closed@test.com").Count(&count)
		if count != 0 {
			t.Errorf("expected the user insert to be rolled back, found %d", count)
		}
	})

	t.Run("fail_open_keeps_save", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		restore := logger.Replace(zap.New(core).Sugar())
		defer restore()

		db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{FailOpen: true})
		defer testutil.TeardownTestDB(t, db)
		if err := db.Migrator().DropTable(&models.ChangeRecord{}); err != nil {
			t.Fatalf("failed to drop table: %v", err)
		}

		err := db.Create(&models.User{Email: "open@test.com", Password: "x", IsActive: true}).Error
		testutil.AssertNoError(t, err)

		var count int64
		db.Model(&models.User{}).Where("email = ?", "open@test.com").Count(&count)
		if count != 1 {
			t.Errorf("expected the user to be saved, found %d", count)
		}
		if logs.Len() == 0 {
			t.Error("expected the dropped batch to be logged")
		}
	})
}

func TestPluginMetrics(t *testing.T) {
	metrics := audit.NewMetrics(prometheus.NewRegistry())
	db, _ := testutil.SetupAuditedDB(t, database.AuditOptions{Metrics: metrics})
	defer testutil.TeardownTestDB(t, db)

	user := testutil.CreateTestUser(t, db)
	written := len(testutil.ChangeRecordsFor(t, db, "User", user.ID))

	if got := promtest.ToFloat64(metrics.RecordsWritten); got != float64(written) {
		t.Errorf("expected %d written, got %v", written, got)
	}
	if got := promtest.ToFloat64(metrics.WriteFailures); got != 0 {
		t.Errorf("expected no failures, got %v", got)
	}
	if got := promtest.CollectAndCount(metrics.BatchSize); got != 1 {
		t.Errorf("expected the batch histogram to be collected, got %d", got)
	}
}
