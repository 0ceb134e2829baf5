package testutil

import (
	"errors"
	"testing"

	apperrors "audittrail/internal/errors"
	"audittrail/internal/models"
)

// AssertAppError checks that err is an *AppError with the expected error code.
func AssertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected AppError with code %q, got nil", expectedCode)
	}

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *AppError, got %T: %v", err, err)
	}

	if appErr.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, appErr.Code, appErr.Message)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ByProperty indexes the records of one operation type by property name.
func ByProperty(records []models.ChangeRecord, op models.OperationType) map[string]models.ChangeRecord {
	out := make(map[string]models.ChangeRecord)
	for _, r := range records {
		if r.OperationType == op {
			out[r.PropertyName] = r
		}
	}
	return out
}

// AssertValues checks the canonical JSON stored on both sides of a record.
func AssertValues(t *testing.T, r models.ChangeRecord, oldJSON, newJSON string) {
	t.Helper()

	if string(r.OldValue) != oldJSON || string(r.NewValue) != newJSON {
		t.Errorf("%s: expected %s -> %s, got %s -> %s", r.PropertyName, oldJSON, newJSON, r.OldValue, r.NewValue)
	}
}
