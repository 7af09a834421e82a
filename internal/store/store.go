// Package store persists credential records.
//
// Both backends guarantee that a refresh token value identifies at most one
// record, and that RotateRefreshToken replaces the stored token only if it
// still equals the presented one.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("credential not found")
	ErrEmailExists = errors.New("email already exists")
)

// Credential is a registered user. An empty RefreshToken means the user has
// no live session.
type Credential struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	RefreshToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
