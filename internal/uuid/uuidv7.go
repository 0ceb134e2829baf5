// Package uuid issues the identifiers used for entities, change records and
// audit batches.
package uuid

import (
	googleuuid "github.com/google/uuid"
)

// New returns a time-ordered UUIDv7 string. Change records sorted by id are
// therefore roughly sorted by creation time, which keeps the primary key index
// append-friendly.
func New() string {
	id, err := googleuuid.NewV7()
	if err != nil {
		// Only fails when the random source is broken.
		return googleuuid.New().String()
	}
	return id.String()
}

// Parse validates and normalises a UUID string.
func Parse(s string) (string, error) {
	parsed, err := googleuuid.Parse(s)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// IsValid checks if a string is a valid UUID
func IsValid(s string) bool {
	_, err := googleuuid.Parse(s)
	return err == nil
}
