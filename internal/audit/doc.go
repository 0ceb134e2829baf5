// Package audit records field-level change history for registered entity
// types.
//
// A Catalog says which fields of each type are tracked, ignored or masked.
// The Extractor diffs two snapshots of an entity into ChangeRecords, the
// Interceptor gathers the records of one save into a batch, and the
// Repository appends batches to the change_records table. Plugin wires the
// whole pipeline into gorm so that every Create, Update and Delete on an
// audited model writes its records inside the same transaction.
//
// Values are stored as canonical JSON. Masked fields store "*****" on both
// sides and values that cannot be serialized store "[unserializable]".
package audit
