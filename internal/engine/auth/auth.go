// Package auth resolves the workspace user behind an authenticated identity.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"frequency/internal/domain"
)

// UnauthenticatedError is returned when an operation arrives without an identity.
type UnauthenticatedError struct {
	Reason string
}

func (e UnauthenticatedError) Error() string {
	if e.Reason == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Reason
}

// UserStore is the persistence the identity service needs.
type UserStore interface {
	EnsureUser(ctx context.Context, candidate domain.User) (domain.User, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
}

// Service maps external identities onto workspace users.
type Service struct {
	Users UserStore
	Now   func() time.Time
}

// EnsureUser returns the user for externalID, creating it on first sight.
func (s Service) EnsureUser(ctx context.Context, externalID, email string) (domain.User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return domain.User{}, UnauthenticatedError{Reason: "missing subject"}
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return s.Users.EnsureUser(ctx, domain.User{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Email:      strings.TrimSpace(email),
		CreatedAt:  now().UTC().Format(time.RFC3339),
	})
}

// RequireActor rejects an empty actor id.
func RequireActor(actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return UnauthenticatedError{}
	}
	return nil
}
