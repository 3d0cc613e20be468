// Package roblox reads platform state: users, experiences, group membership
// and marketplace passes.
package roblox

import (
	"context"
	"errors"
	"fmt"

	"trading-desk/internal/domain"
)

// Client errors. Poll loops absorb all of them; user actions surface
// ErrNotFound as a specific message.
var (
	// ErrNotFound is returned when the platform reports the resource missing.
	ErrNotFound = errors.New("roblox: not found")

	// ErrTransient covers rate limits, 5xx responses and network failures.
	ErrTransient = errors.New("roblox: transient error")

	// ErrUnauthorized is returned when the session cookie is rejected.
	ErrUnauthorized = errors.New("roblox: unauthorized")
)

// Client defines the platform read interface.
type Client interface {
	// LookupUser resolves a username to a platform user.
	LookupUser(ctx context.Context, username string) (*domain.PlatformUser, error)

	// ListExperiences returns the user's public experiences, oldest first.
	ListExperiences(ctx context.Context, userID int64) ([]domain.Experience, error)

	// IsMember reports whether the user belongs to the group.
	IsMember(ctx context.Context, userID, groupID int64) (bool, error)

	// ListPasses returns the marketplace passes of an experience.
	ListPasses(ctx context.Context, experienceID int64) ([]domain.GamePass, error)

	// GetPass returns a single pass with its current price.
	GetPass(ctx context.Context, passID int64) (*domain.GamePass, error)
}

// PassCreationURL returns the dashboard link where a seller creates a pass.
func PassCreationURL(experienceID int64) string {
	return fmt.Sprintf("https://create.roblox.com/dashboard/creations/experiences/%d/monetization/passes", experienceID)
}
