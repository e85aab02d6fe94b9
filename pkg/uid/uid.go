package uid

import "github.com/google/uuid"

// New returns a time-ordered identifier, so rows sort roughly by creation.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsValid reports whether id is a UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
