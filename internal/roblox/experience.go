package roblox

import (
	"fmt"

	"trading-desk/internal/domain"
)

// ExperiencePolicy decides which experience receives the pass when a user
// owns several.
type ExperiencePolicy string

const (
	// PolicyFirst picks the oldest public experience.
	PolicyFirst ExperiencePolicy = "first"
	// PolicySingle refuses to guess when the user has more than one.
	PolicySingle ExperiencePolicy = "single"
)

// ParseExperiencePolicy validates a configured policy name.
func ParseExperiencePolicy(s string) (ExperiencePolicy, error) {
	switch p := ExperiencePolicy(s); p {
	case PolicyFirst, PolicySingle:
		return p, nil
	case "":
		return PolicyFirst, nil
	}
	return "", fmt.Errorf("unknown experience policy %q", s)
}

// SelectExperience applies the policy to a user's experiences.
func SelectExperience(experiences []domain.Experience, policy ExperiencePolicy) (domain.Experience, error) {
	if len(experiences) == 0 {
		return domain.Experience{}, domain.NewUserError(domain.ErrNoExperience, "No Experiences Found",
			"No public experiences found for this user!")
	}
	if policy == PolicySingle && len(experiences) > 1 {
		return domain.Experience{}, domain.Errorf(domain.ErrNoExperience, "Multiple Experiences Found",
			"This account has %d public experiences. Keep a single public experience and try again!", len(experiences))
	}
	return experiences[0], nil
}
