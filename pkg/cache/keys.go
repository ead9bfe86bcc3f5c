package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// Key prefixes. Every key of one user starts with "user:{id}" so a single
// pattern clears them all.
const (
	UserPrefix = "user:"
)

// UserKey is the cached user row.
//
// Example: "user:123e4567-e89b-12d3-a456-426614174000"
func UserKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s", UserPrefix, userID.String())
}

// ConnectionsKey is the cached list of a user's active connections.
//
// Example: "user:123e4567-e89b-12d3-a456-426614174000:connections"
func ConnectionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s:connections", UserPrefix, userID.String())
}

// UserPattern matches every cached key of a user. Use with DeletePattern.
//
// Example: "user:123e4567-e89b-12d3-a456-426614174000*"
func UserPattern(userID uuid.UUID) string {
	return fmt.Sprintf("%s%s*", UserPrefix, userID.String())
}
