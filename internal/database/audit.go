package database

import (
	"fmt"

	"audittrail/internal/audit"
	"audittrail/internal/models"
)

// AuditCatalog lists the audited models under their stable entity names.
// Field policies come from the audit struct tags on the models.
func AuditCatalog() (*audit.Catalog, error) {
	return audit.NewCatalog(
		audit.Describe[models.User]("User"),
		audit.Describe[models.Product]("Product"),
	)
}

// AuditOptions configures NewAuditPlugin.
type AuditOptions struct {
	FailOpen  bool
	BatchSize int
	Metrics   *audit.Metrics
}

// NewAuditPlugin builds the gorm plugin and the extractor it shares with the
// manual logging service.
func NewAuditPlugin(opts AuditOptions) (*audit.Plugin, *audit.Extractor, error) {
	catalog, err := AuditCatalog()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build audit catalog: %w", err)
	}
	extractor := audit.NewExtractor(catalog, audit.WithExtractorMetrics(opts.Metrics))
	plugin := audit.NewPlugin(extractor, audit.PluginConfig{
		FailOpen:  opts.FailOpen,
		BatchSize: opts.BatchSize,
		Metrics:   opts.Metrics,
	})
	return plugin, extractor, nil
}
