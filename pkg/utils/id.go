package utils

import "github.com/google/uuid"

// GenerateID generates a new UUID v4
func GenerateID() string {
	return uuid.New().String()
}

// IsValidUUID checks if a string is a valid UUID
func IsValidUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// SessionID returns header if it is a UUID, otherwise a fresh one.
func SessionID(header string) string {
	if IsValidUUID(header) {
		return header
	}
	return GenerateID()
}
