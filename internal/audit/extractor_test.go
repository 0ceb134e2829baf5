package audit_test

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"audittrail/internal/audit"
	"audittrail/internal/models"
	"audittrail/internal/testutil"
)

type member struct {
	Name     string
	Email    string
	Password string `audit:"mask"`
}

type profile struct {
	ID        string
	Name      string
	Age       int
	Active    bool
	Tags      []string
	Settings  map[string]string
	Secret    string `audit:"ignore"`
	Feed      chan int
	UpdatedAt time.Time
}

type other struct {
	Name string
}

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.FixedZone("UTC+2", 2*60*60))

func newTestExtractor(t *testing.T) *audit.Extractor {
	t.Helper()
	var seq atomic.Int64
	catalog := audit.MustCatalog(
		audit.Describe[member]("User"),
		audit.Describe[profile]("Profile"),
	)
	return audit.NewExtractor(catalog,
		audit.WithClock(func() time.Time { return fixedNow }),
		audit.WithIDGenerator(func() string { return fmt.Sprintf("id-%03d", seq.Add(1)) }),
	)
}

// extract runs ex.Extract and turns a panic into a test failure so one bad
// case does not abort the rest of the package.
func extract(t *testing.T, ex *audit.Extractor, oldEntity, newEntity any, op models.OperationType, meta audit.Meta) (records []models.ChangeRecord, err error) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Extract panicked: %v", r)
		}
	}()
	return ex.Extract(oldEntity, newEntity, op, meta)
}

func extractTyped(t *testing.T, ex *audit.Extractor, oldEntity, newEntity *member, op models.OperationType, meta audit.Meta) ([]models.ChangeRecord, error) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("ExtractTyped panicked: %v", r)
		}
	}()
	return audit.ExtractTyped(ex, oldEntity, newEntity, op, meta)
}

func byProperty(records []models.ChangeRecord) map[string]models.ChangeRecord {
	out := make(map[string]models.ChangeRecord, len(records))
	for _, r := range records {
		out[r.PropertyName] = r
	}
	return out
}

func TestExtractScenarios(t *testing.T) {
	ex := newTestExtractor(t)
	meta := audit.Meta{ChangedBy: "Admin", EntityID: "42"}

	t.Run("create_emits_non_empty_fields", func(t *testing.T) {
		records, err := extract(t, ex, nil, &member{Name: "Alice", Email: "a@x.com"}, models.OperationCreate, meta)
		testutil.AssertNoError(t, err)

		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		got := byProperty(records)
		for prop, want := range map[string]string{"Name": `"Alice"`, "Email": `"a@x.com"`} {
			r, ok := got[prop]
			if !ok {
				t.Fatalf("missing record for %s", prop)
			}
			if r.OperationType != models.OperationCreate {
				t.Errorf("%s: expected Create, got %s", prop, r.OperationType)
			}
			if string(r.OldValue) != "null" {
				t.Errorf("%s: expected null old value, got %s", prop, r.OldValue)
			}
			if string(r.NewValue) != want {
				t.Errorf("%s: expected new value %s, got %s", prop, want, r.NewValue)
			}
			if r.ChangedBy != "Admin" || r.EntityName != "User" || r.EntityID != "42" {
				t.Errorf("%s: unexpected identity %+v", prop, r)
			}
		}
	})

	t.Run("update_emits_only_changed_fields", func(t *testing.T) {
		before := &member{Name: "Alice", Email: "a@x.com"}
		after := &member{Name: "Alicia", Email: "a@x.com"}

		records, err := extract(t, ex, before, after, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)

		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		r := records[0]
		if r.PropertyName != "Name" || string(r.OldValue) != `"Alice"` || string(r.NewValue) != `"Alicia"` {
			t.Errorf("unexpected record %s: %s -> %s", r.PropertyName, r.OldValue, r.NewValue)
		}
	})

	t.Run("masked_field_is_redacted_both_sides", func(t *testing.T) {
		before := &member{Name: "Alice", Password: "p1"}
		after := &member{Name: "Alice", Password: "p2"}

		records, err := extract(t, ex, before, after, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)

		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		r := records[0]
		if r.PropertyName != "Password" {
			t.Fatalf("expected Password record, got %s", r.PropertyName)
		}
		if string(r.OldValue) != `"*****"` || string(r.NewValue) != `"*****"` {
			t.Errorf("expected redacted values, got %s -> %s", r.OldValue, r.NewValue)
		}
	})

	t.Run("masked_field_unchanged_emits_nothing", func(t *testing.T) {
		before := &member{Name: "Alice", Password: "same"}
		after := &member{Name: "Alice", Password: "same"}

		records, err := extract(t, ex, before, after, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 0 {
			t.Errorf("expected no records, got %d", len(records))
		}
	})

	t.Run("delete_emits_non_empty_old_fields", func(t *testing.T) {
		records, err := extract(t, ex, &member{Name: "Alice", Password: "p"}, nil, models.OperationDelete, meta)
		testutil.AssertNoError(t, err)

		got := byProperty(records)
		if len(got) != 2 {
			t.Fatalf("expected Name and Password records, got %d", len(got))
		}
		if r := got["Name"]; string(r.OldValue) != `"Alice"` || string(r.NewValue) != "null" {
			t.Errorf("unexpected Name record %s -> %s", r.OldValue, r.NewValue)
		}
		if r := got["Password"]; string(r.OldValue) != `"*****"` || string(r.NewValue) != "null" {
			t.Errorf("expected redacted old Password and null new, got %s -> %s", r.OldValue, r.NewValue)
		}
	})

	t.Run("delete_of_every_field_kind", func(t *testing.T) {
		records, err := extract(t, ex, &profile{ID: "p-1", Name: "n", Age: 0, Tags: []string{"x"}}, nil, models.OperationDelete, meta)
		testutil.AssertNoError(t, err)

		got := byProperty(records)
		for _, prop := range []string{"ID", "Name", "Age", "Active", "Tags"} {
			r, ok := got[prop]
			if !ok {
				t.Errorf("expected delete record for %s", prop)
				continue
			}
			if r.OperationType != models.OperationDelete || string(r.NewValue) != "null" {
				t.Errorf("%s: expected Delete with null new value, got %s %s", prop, r.OperationType, r.NewValue)
			}
		}
	})

	t.Run("masked_field_on_create_keeps_null_old", func(t *testing.T) {
		records, err := extract(t, ex, nil, &member{Name: "Alice", Password: "secret"}, models.OperationCreate, meta)
		testutil.AssertNoError(t, err)

		r, ok := byProperty(records)["Password"]
		if !ok {
			t.Fatal("expected Password record")
		}
		if string(r.OldValue) != "null" || string(r.NewValue) != `"*****"` {
			t.Errorf("expected null -> redacted, got %s -> %s", r.OldValue, r.NewValue)
		}
	})

	t.Run("masked_field_cleared_on_update_keeps_null_side", func(t *testing.T) {
		type vault struct {
			Key *string `audit:"mask"`
		}
		vx := audit.NewExtractor(audit.MustCatalog(audit.Describe[vault]("Vault")))
		key := "k"

		records, err := extract(t, vx, &vault{Key: &key}, &vault{}, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if string(records[0].OldValue) != `"*****"` || string(records[0].NewValue) != "null" {
			t.Errorf("expected redacted -> null, got %s -> %s", records[0].OldValue, records[0].NewValue)
		}
	})
}

func TestExtractRules(t *testing.T) {
	ex := newTestExtractor(t)
	meta := audit.Meta{EntityID: "p-1"}

	t.Run("zero_and_false_are_real_values_on_create", func(t *testing.T) {
		records, err := extract(t, ex, nil, &profile{ID: "p-1"}, models.OperationCreate, meta)
		testutil.AssertNoError(t, err)

		got := byProperty(records)
		for _, prop := range []string{"ID", "Age", "Active"} {
			if _, ok := got[prop]; !ok {
				t.Errorf("expected record for %s", prop)
			}
		}
		for _, prop := range []string{"Name", "Tags", "Settings", "Secret", "UpdatedAt"} {
			if _, ok := got[prop]; ok {
				t.Errorf("unexpected record for %s", prop)
			}
		}
	})

	t.Run("ignored_and_builtin_fields_never_emit", func(t *testing.T) {
		before := &profile{ID: "p-1", Secret: "a", UpdatedAt: fixedNow}
		after := &profile{ID: "p-1", Secret: "b", UpdatedAt: fixedNow.Add(time.Hour)}

		records, err := extract(t, ex, before, after, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 0 {
			t.Errorf("expected no records, got %v", byProperty(records))
		}
	})

	t.Run("map_order_does_not_cause_phantom_changes", func(t *testing.T) {
		before := &profile{Settings: map[string]string{"a": "1", "b": "2", "c": "3"}}
		after := &profile{Settings: map[string]string{"c": "3", "b": "2", "a": "1"}}

		records, err := extract(t, ex, before, after, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 0 {
			t.Errorf("expected no records, got %v", byProperty(records))
		}
	})

	t.Run("nested_change_replaces_whole_value", func(t *testing.T) {
		before := &profile{Tags: []string{"a", "b"}}
		after := &profile{Tags: []string{"a", "c"}}

		records, err := extract(t, ex, before, after, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}
		if string(records[0].OldValue) != `["a","b"]` || string(records[0].NewValue) != `["a","c"]` {
			t.Errorf("unexpected values %s -> %s", records[0].OldValue, records[0].NewValue)
		}
	})

	t.Run("unserializable_value_emits_marker", func(t *testing.T) {
		records, err := extract(t, ex, nil, &profile{ID: "p-1", Feed: make(chan int)}, models.OperationCreate, meta)
		testutil.AssertNoError(t, err)

		r, ok := byProperty(records)["Feed"]
		if !ok {
			t.Fatal("expected record for Feed")
		}
		if string(r.NewValue) != `"[unserializable]"` {
			t.Errorf("expected marker, got %s", r.NewValue)
		}
	})

	t.Run("create_ignores_old_entity", func(t *testing.T) {
		records, err := extract(t, ex, &profile{Name: "old"}, &profile{Name: "new"}, models.OperationCreate, meta)
		testutil.AssertNoError(t, err)

		r := byProperty(records)["Name"]
		if string(r.OldValue) != "null" {
			t.Errorf("expected null old value on create, got %s", r.OldValue)
		}
	})

	t.Run("idempotent_update", func(t *testing.T) {
		same := &profile{ID: "p-1", Name: "x", Age: 3, Tags: []string{"t"}}
		records, err := extract(t, ex, same, same, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 0 {
			t.Errorf("expected no records comparing an entity with itself, got %d", len(records))
		}
	})

	t.Run("values_accepted", func(t *testing.T) {
		records, err := extract(t, ex, profile{Name: "a"}, profile{Name: "b"}, models.OperationUpdate, meta)
		testutil.AssertNoError(t, err)
		if len(records) != 1 {
			t.Errorf("expected 1 record, got %d", len(records))
		}
	})
}

func TestExtractMetadata(t *testing.T) {
	ex := newTestExtractor(t)

	t.Run("batch_and_provenance", func(t *testing.T) {
		records, err := extract(t, ex, nil, &member{Name: "A", Email: "e"}, models.OperationCreate, audit.Meta{
			EntityID:  "7",
			IPAddress: "10.0.0.1",
			UserAgent: "curl/8",
			Reason:    "import",
		})
		testutil.AssertNoError(t, err)

		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].ID == records[1].ID {
			t.Error("records must have distinct ids")
		}
		if records[0].BatchID == "" || records[0].BatchID != records[1].BatchID {
			t.Errorf("records of one call must share a batch id, got %q and %q", records[0].BatchID, records[1].BatchID)
		}
		for _, r := range records {
			if r.ChangedBy != audit.SystemActor {
				t.Errorf("expected default actor %s, got %s", audit.SystemActor, r.ChangedBy)
			}
			if r.IPAddress != "10.0.0.1" || r.UserAgent != "curl/8" || r.ChangeReason != "import" {
				t.Errorf("provenance not copied: %+v", r)
			}
			if !r.ChangedAt.Equal(fixedNow) || r.ChangedAt.Location() != time.UTC {
				t.Errorf("expected %s in UTC, got %s", fixedNow.UTC(), r.ChangedAt)
			}
		}
	})

	t.Run("explicit_batch_id", func(t *testing.T) {
		records, err := extract(t, ex, nil, &member{Name: "A"}, models.OperationCreate, audit.Meta{EntityID: "7", BatchID: "batch-1"})
		testutil.AssertNoError(t, err)
		if records[0].BatchID != "batch-1" {
			t.Errorf("expected batch-1, got %s", records[0].BatchID)
		}
	})

	t.Run("typed_helper", func(t *testing.T) {
		records, err := extractTyped(t, ex, &member{Name: "A"}, nil, models.OperationDelete, audit.Meta{EntityID: "7"})
		testutil.AssertNoError(t, err)
		if len(records) != 1 || records[0].OperationType != models.OperationDelete {
			t.Errorf("unexpected records %+v", records)
		}
	})
}

func TestExtractErrors(t *testing.T) {
	ex := newTestExtractor(t)

	tests := []struct {
		name     string
		old, new any
		op       models.OperationType
		entityID string
		code     string
	}{
		{"empty_entity_id", nil, &member{Name: "A"}, models.OperationCreate, "", "INVALID_INPUT"},
		{"blank_entity_id", nil, &member{Name: "A"}, models.OperationCreate, "  ", "INVALID_INPUT"},
		{"both_absent", nil, nil, models.OperationUpdate, "1", "INVALID_INPUT"},
		{"typed_nil_pointers", (*member)(nil), (*member)(nil), models.OperationUpdate, "1", "INVALID_INPUT"},
		{"create_without_new", &member{Name: "A"}, nil, models.OperationCreate, "1", "INVALID_INPUT"},
		{"unknown_operation", nil, &member{}, models.OperationType("Upsert"), "1", "INVALID_INPUT"},
		{"type_mismatch", &member{}, &profile{}, models.OperationUpdate, "1", "UNKNOWN_ENTITY"},
		{"unregistered_type", nil, &other{Name: "x"}, models.OperationCreate, "1", "UNKNOWN_ENTITY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := extract(t, ex, tt.old, tt.new, tt.op, audit.Meta{EntityID: tt.entityID})
			testutil.AssertAppError(t, err, tt.code)
			if records != nil {
				t.Errorf("expected no records on error, got %d", len(records))
			}
		})
	}
}
