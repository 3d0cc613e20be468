package roblox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"trading-desk/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 2
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
	DefaultCacheTTL    = 5 * time.Minute

	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	experiencePageSize = 50
	passPageSize       = 100
	maxPages           = 20
)

// Endpoints holds the base URLs of the platform APIs.
type Endpoints struct {
	Users      string
	Games      string
	Groups     string
	Thumbnails string
}

// DefaultEndpoints are the public platform API hosts.
var DefaultEndpoints = Endpoints{
	Users:      "https://users.roblox.com",
	Games:      "https://games.roblox.com",
	Groups:     "https://groups.roblox.com",
	Thumbnails: "https://thumbnails.roblox.com",
}

// SingleEndpoint routes every API to one base URL.
func SingleEndpoint(base string) Endpoints {
	return Endpoints{Users: base, Games: base, Groups: base, Thumbnails: base}
}

// HTTPClient implements Client over the public web APIs.
type HTTPClient struct {
	endpoints   Endpoints
	cookie      string
	userAgent   string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	cache       *cache.Cache
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithEndpoints overrides the API base URLs.
func WithEndpoints(e Endpoints) ClientOption {
	return func(c *HTTPClient) {
		c.endpoints = e
	}
}

// WithCacheTTL sets how long user and experience lookups are cached.
// Zero disables caching.
func WithCacheTTL(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		if d <= 0 {
			c.cache = nil
			return
		}
		c.cache = cache.New(d, 2*d)
	}
}

// NewHTTPClient creates a platform client authenticated with a session cookie.
func NewHTTPClient(cookie string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoints:   DefaultEndpoints,
		cookie:      cookie,
		userAgent:   DefaultUserAgent,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		cache:       cache.New(DefaultCacheTTL, 2*DefaultCacheTTL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs a request with retries and exponential backoff.
// 404 and 400 map to ErrNotFound, 401 and 403 to ErrUnauthorized; neither is retried.
func (c *HTTPClient) do(ctx context.Context, method, rawURL string, payload, result interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if c.cookie != "" {
			req.AddCookie(&http.Cookie{Name: ".ROBLOSECURITY", Value: c.cookie})
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s %s: status %d", ErrNotFound, method, req.URL.Path, resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 100))
			continue
		}

		if result != nil {
			if err := json.Unmarshal(respBody, result); err != nil {
				return fmt.Errorf("%w: unmarshal response: %v", ErrTransient, err)
			}
		}
		return nil
	}

	return fmt.Errorf("%w: max retries exceeded: %v", ErrTransient, lastErr)
}

type usernamesResponse struct {
	Data []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
	} `json:"data"`
}

type thumbnailsResponse struct {
	Data []struct {
		TargetID int64  `json:"targetId"`
		State    string `json:"state"`
		ImageURL string `json:"imageUrl"`
	} `json:"data"`
}

// LookupUser resolves a username. Unknown usernames return ErrNotFound.
// The avatar is best effort: a failed thumbnail lookup leaves AvatarURL empty.
func (c *HTTPClient) LookupUser(ctx context.Context, username string) (*domain.PlatformUser, error) {
	key := "user:" + strings.ToLower(username)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			u := v.(domain.PlatformUser)
			return &u, nil
		}
	}

	var resp usernamesResponse
	payload := map[string]interface{}{
		"usernames":          []string{username},
		"excludeBannedUsers": true,
	}
	if err := c.do(ctx, http.MethodPost, c.endpoints.Users+"/v1/usernames/users", payload, &resp); err != nil {
		return nil, fmt.Errorf("lookup user %q: %w", username, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("lookup user %q: %w", username, ErrNotFound)
	}

	d := resp.Data[0]
	user := domain.PlatformUser{ID: d.ID, Name: d.Name, DisplayName: d.DisplayName}
	if user.DisplayName == "" {
		user.DisplayName = user.Name
	}
	user.AvatarURL = c.avatarURL(ctx, user.ID)

	if c.cache != nil {
		c.cache.Set(key, user, cache.DefaultExpiration)
	}
	return &user, nil
}

func (c *HTTPClient) avatarURL(ctx context.Context, userID int64) string {
	q := url.Values{}
	q.Set("userIds", strconv.FormatInt(userID, 10))
	q.Set("size", "420x420")
	q.Set("format", "Png")

	var resp thumbnailsResponse
	if err := c.do(ctx, http.MethodGet, c.endpoints.Thumbnails+"/v1/users/avatar-headshot?"+q.Encode(), nil, &resp); err != nil {
		return ""
	}
	for _, d := range resp.Data {
		if d.TargetID == userID && d.State == "Completed" {
			return d.ImageURL
		}
	}
	return ""
}

type gamesResponse struct {
	Data []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
	NextPageCursor string `json:"nextPageCursor"`
}

// ListExperiences pages through the user's public experiences in ascending order.
func (c *HTTPClient) ListExperiences(ctx context.Context, userID int64) ([]domain.Experience, error) {
	key := "experiences:" + strconv.FormatInt(userID, 10)
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			return append([]domain.Experience(nil), v.([]domain.Experience)...), nil
		}
	}

	var out []domain.Experience
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("accessFilter", "Public")
		q.Set("sortOrder", "Asc")
		q.Set("limit", strconv.Itoa(experiencePageSize))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp gamesResponse
		u := fmt.Sprintf("%s/v2/users/%d/games?%s", c.endpoints.Games, userID, q.Encode())
		if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
			return nil, fmt.Errorf("list experiences of %d: %w", userID, err)
		}
		for _, d := range resp.Data {
			if d.ID == 0 {
				continue
			}
			out = append(out, domain.Experience{ID: d.ID, Name: d.Name})
		}
		if resp.NextPageCursor == "" {
			break
		}
		cursor = resp.NextPageCursor
	}

	if c.cache != nil {
		c.cache.Set(key, append([]domain.Experience(nil), out...), cache.DefaultExpiration)
	}
	return out, nil
}

type groupRolesResponse struct {
	Data []struct {
		Group struct {
			ID int64 `json:"id"`
		} `json:"group"`
	} `json:"data"`
}

// IsMember lists the user's group roles and looks for groupID.
func (c *HTTPClient) IsMember(ctx context.Context, userID, groupID int64) (bool, error) {
	var resp groupRolesResponse
	u := fmt.Sprintf("%s/v2/users/%d/groups/roles", c.endpoints.Groups, userID)
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return false, fmt.Errorf("group roles of %d: %w", userID, err)
	}
	for _, d := range resp.Data {
		if d.Group.ID == groupID {
			return true, nil
		}
	}
	return false, nil
}

type passJSON struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Price        *int64 `json:"price"`
	PriceInRobux *int64 `json:"priceInRobux"`
}

func (p passJSON) toDomain() domain.GamePass {
	price := p.Price
	if price == nil {
		price = p.PriceInRobux
	}
	return domain.GamePass{ID: p.ID, Name: p.Name, Price: price}
}

type passesResponse struct {
	Data           []passJSON `json:"data"`
	NextPageCursor string     `json:"nextPageCursor"`
}

// ListPasses returns every pass of the experience, newest first.
func (c *HTTPClient) ListPasses(ctx context.Context, experienceID int64) ([]domain.GamePass, error) {
	var out []domain.GamePass
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(passPageSize))
		q.Set("sortOrder", "Desc")
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp passesResponse
		u := fmt.Sprintf("%s/v1/games/%d/game-passes?%s", c.endpoints.Games, experienceID, q.Encode())
		if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
			return nil, fmt.Errorf("list passes of %d: %w", experienceID, err)
		}
		for _, p := range resp.Data {
			out = append(out, p.toDomain())
		}
		if resp.NextPageCursor == "" {
			break
		}
		cursor = resp.NextPageCursor
	}
	return out, nil
}

// GetPass returns the pass with its current price. Off-sale passes have a nil price.
func (c *HTTPClient) GetPass(ctx context.Context, passID int64) (*domain.GamePass, error) {
	var resp passJSON
	u := fmt.Sprintf("%s/v1/game-passes/%d", c.endpoints.Games, passID)
	if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, fmt.Errorf("get pass %d: %w", passID, err)
	}
	pass := resp.toDomain()
	if pass.ID == 0 {
		pass.ID = passID
	}
	return &pass, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ Client = (*HTTPClient)(nil)
