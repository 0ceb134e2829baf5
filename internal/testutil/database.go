// Package testutil provides test helpers for setting up in-memory databases,
// creating fixtures, and making assertions.
package testutil

import (
	"fmt"
	"testing"

	"audittrail/internal/audit"
	"audittrail/internal/database"
	"audittrail/internal/models"
	"audittrail/internal/uuid"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// allModels is the list of all GORM models to auto-migrate in tests.
var allModels = []interface{}{
	&models.User{},
	&models.Product{},
	&models.ChangeRecord{},
}

// SetupTestDB creates an in-memory SQLite database with all models migrated.
// Every call gets its own database so tests never see each other's rows.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(allModels...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db
}

// SetupAuditedDB is SetupTestDB with the audit plugin installed. The returned
// extractor shares the plugin's catalog.
func SetupAuditedDB(t *testing.T, opts database.AuditOptions) (*gorm.DB, *audit.Extractor) {
	t.Helper()

	db := SetupTestDB(t)
	plugin, extractor, err := database.NewAuditPlugin(opts)
	if err != nil {
		t.Fatalf("failed to build audit plugin: %v", err)
	}
	if err := db.Use(plugin); err != nil {
		t.Fatalf("failed to register audit plugin: %v", err)
	}
	return db, extractor
}

// TeardownTestDB closes the underlying database connection.
func TeardownTestDB(t *testing.T, db *gorm.DB) {
	t.Helper()

	sqlDB, err := db.DB()
	if err != nil {
		t.Errorf("failed to get underlying DB for teardown: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		t.Errorf("failed to close test database: %v", err)
	}
}

// ChangeRecordsFor returns the stored records of one entity in write order.
func ChangeRecordsFor(t *testing.T, db *gorm.DB, entityName, entityID string) []models.ChangeRecord {
	t.Helper()

	var records []models.ChangeRecord
	if err := db.Where("entity_name = ? AND entity_id = ?", entityName, entityID).
		Order("changed_at ASC, id ASC").
		Find(&records).Error; err != nil {
		t.Fatalf("failed to load change records: %v", err)
	}
	return records
}
