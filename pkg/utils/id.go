package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return GenerateID("evt")
}

// GenerateClientID generates a unique client ID
func GenerateClientID() string {
	return GenerateID("client")
}

// GenerateInstanceID generates a unique panel instance ID
func GenerateInstanceID() string {
	return GenerateID("panel")
}

// GenerateID generates a prefixed unique ID
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
