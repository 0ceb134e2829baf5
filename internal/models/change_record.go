package models

import "time"

// OperationType classifies the transition that produced a change record.
type OperationType string

const (
	OperationCreate OperationType = "Create"
	OperationUpdate OperationType = "Update"
	OperationDelete OperationType = "Delete"
)

// Valid reports whether op is one of the known operation types.
func (op OperationType) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ChangeRecord is one field-level transition of one entity instance.
// Rows are append-only: nothing in the application updates or deletes them.
type ChangeRecord struct {
	ID            string        `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID       string        `gorm:"type:uuid;not null;index" json:"batch_id"`
	OperationType OperationType `gorm:"size:16;not null" json:"operation_type"`
	EntityName    string        `gorm:"size:255;not null;index:idx_change_records_entity,priority:1" json:"entity_name"`
	EntityID      string        `gorm:"size:255;not null;index:idx_change_records_entity,priority:2" json:"entity_id"`
	PropertyName  string        `gorm:"size:255;not null" json:"property_name"`
	OldValue      ChangeValue   `json:"old_value"`
	NewValue      ChangeValue   `json:"new_value"`
	ChangedBy     string        `gorm:"size:255;not null" json:"changed_by"`
	IPAddress     string        `gorm:"size:50" json:"ip_address,omitempty"`
	UserAgent     string        `gorm:"size:500" json:"user_agent,omitempty"`
	ChangedAt     time.Time     `gorm:"not null;index" json:"changed_at"`
	ChangeReason  string        `gorm:"size:1000" json:"change_reason,omitempty"`
}
