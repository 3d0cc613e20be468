package stub

import (
	"context"
	"strings"
	"sync"

	"trading-desk/internal/domain"
	"trading-desk/internal/roblox"
)

// Client implements roblox.Client for testing.
// Errors queued with FailNext are returned before any lookup.
type Client struct {
	mu          sync.Mutex
	Users       map[string]domain.PlatformUser
	Experiences map[int64][]domain.Experience
	Members     map[int64]map[int64]bool
	Passes      map[int64][]domain.GamePass
	failures    []error
	calls       map[string]int
}

// NewClient creates a new stub client.
func NewClient() *Client {
	return &Client{
		Users:       make(map[string]domain.PlatformUser),
		Experiences: make(map[int64][]domain.Experience),
		Members:     make(map[int64]map[int64]bool),
		Passes:      make(map[int64][]domain.GamePass),
		calls:       make(map[string]int),
	}
}

// AddUser adds a user to the stub store.
func (c *Client) AddUser(u domain.PlatformUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Users[strings.ToLower(u.Name)] = u
}

// AddExperience appends an experience to the user's list.
func (c *Client) AddExperience(userID int64, e domain.Experience) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Experiences[userID] = append(c.Experiences[userID], e)
}

// SetMember sets the membership of a user in a group.
func (c *Client) SetMember(userID, groupID int64, member bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Members[groupID] == nil {
		c.Members[groupID] = make(map[int64]bool)
	}
	c.Members[groupID][userID] = member
}

// AddPass adds a pass to an experience, newest first.
func (c *Client) AddPass(experienceID int64, p domain.GamePass) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Passes[experienceID] = append([]domain.GamePass{p}, c.Passes[experienceID]...)
}

// SetPrice updates the price of an existing pass.
func (c *Client) SetPrice(passID int64, price *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for exp, passes := range c.Passes {
		for i := range passes {
			if passes[i].ID == passID {
				c.Passes[exp][i].Price = price
			}
		}
	}
}

// FailNext queues errors returned by the next calls, in order.
func (c *Client) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// Calls returns how many times a method was called.
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Client) enter(method string) error {
	c.calls[method]++
	if len(c.failures) == 0 {
		return nil
	}
	err := c.failures[0]
	c.failures = c.failures[1:]
	return err
}

// LookupUser resolves a username from the stub store.
func (c *Client) LookupUser(_ context.Context, username string) (*domain.PlatformUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("LookupUser"); err != nil {
		return nil, err
	}
	u, ok := c.Users[strings.ToLower(username)]
	if !ok {
		return nil, roblox.ErrNotFound
	}
	return &u, nil
}

// ListExperiences returns the user's experiences from the stub store.
func (c *Client) ListExperiences(_ context.Context, userID int64) ([]domain.Experience, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListExperiences"); err != nil {
		return nil, err
	}
	return append([]domain.Experience(nil), c.Experiences[userID]...), nil
}

// IsMember reports membership from the stub store.
func (c *Client) IsMember(_ context.Context, userID, groupID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("IsMember"); err != nil {
		return false, err
	}
	return c.Members[groupID][userID], nil
}

// ListPasses returns the experience's passes from the stub store.
func (c *Client) ListPasses(_ context.Context, experienceID int64) ([]domain.GamePass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListPasses"); err != nil {
		return nil, err
	}
	out := make([]domain.GamePass, len(c.Passes[experienceID]))
	copy(out, c.Passes[experienceID])
	return out, nil
}

// GetPass looks a pass up across all experiences.
func (c *Client) GetPass(_ context.Context, passID int64) (*domain.GamePass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("GetPass"); err != nil {
		return nil, err
	}
	for _, passes := range c.Passes {
		for _, p := range passes {
			if p.ID == passID {
				cp := p
				return &cp, nil
			}
		}
	}
	return nil, roblox.ErrNotFound
}

var _ roblox.Client = (*Client)(nil)
