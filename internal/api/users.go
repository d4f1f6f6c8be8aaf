package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
)

// StartupResult is the bootstrap payload.
type StartupResult struct {
	AccumulatedPoints float64 `json:"accumulatedPoints"`
	JustCreated       bool    `json:"justCreated"`
	JWT               string  `json:"jwt"`
}

// Bootstrap exchanges the startup data for a session token. It is the only
// operation that authenticates with startup data instead of the JWT.
func (c *Client) Bootstrap(ctx context.Context) (*StartupResult, *account.RealtimeData, error) {
	c.log.Info("fetching startup data", zap.Int64("userId", c.state.UserID))

	data, rd, err := call[StartupResult](c, ctx, "startup",
		http.MethodGet, "/api/v1/user/startup", nil, c.state.StartupData, nil, false)
	if err != nil {
		return nil, nil, err
	}
	if data.JWT == "" {
		return nil, nil, c.fail("startup", fmt.Errorf("%w: empty jwt in response", ErrServer))
	}
	return &data, rd, nil
}

// FetchProfile pulls the full profile snapshot (boosts, energy refill
// allowance, daily-claim flag).
func (c *Client) FetchProfile(ctx context.Context) (*account.UserInfo, *account.RealtimeData, error) {
	data, rd, err := call[account.UserInfo](c, ctx, "profile",
		http.MethodGet, "/api/v1/user", c.userQuery(), "", nil, false)
	if err != nil {
		return nil, nil, err
	}
	return &data, rd, nil
}

// ConfigEntry is one server-side tunable. Values vary in shape (numbers,
// arrays, level tables), so they stay raw until something consumes them.
type ConfigEntry struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	Description string `json:"description"`
	Value       any    `json:"value"`
}

// FetchConfig pulls the server-side tunables. Consumed but not acted upon;
// kept as an extension point.
func (c *Client) FetchConfig(ctx context.Context) ([]ConfigEntry, error) {
	data, _, err := call[[]ConfigEntry](c, ctx, "config",
		http.MethodGet, "/api/v1/config", c.userQuery(), "", nil, false)
	return data, err
}

// Task is one backend task offer.
type Task struct {
	ID         string  `json:"_id"`
	Name       string  `json:"name"`
	Profit     float64 `json:"profit"`
	Type       string  `json:"type"`
	TaskStatus string  `json:"taskStatus"`
}

// TaskList is the paged task listing.
type TaskList struct {
	Tasks []Task `json:"tasks"`
	Total struct {
		TotalCount int `json:"totalCount"`
	} `json:"total"`
}

// ListTasks pulls one page of the task listing.
func (c *Client) ListTasks(ctx context.Context, page, perPage int) (*TaskList, error) {
	query := c.userQuery()
	query.Set("page", fmt.Sprint(page))
	query.Set("perPage", fmt.Sprint(perPage))

	data, _, err := call[TaskList](c, ctx, "tasks",
		http.MethodGet, "/api/v1/task", query, "", nil, false)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// ClaimDaily claims the daily reward. Requires auth.
func (c *Client) ClaimDaily(ctx context.Context) (*account.RealtimeData, error) {
	c.log.Info("claiming daily reward", zap.Int64("userId", c.state.UserID))

	_, rd, err := call[bool](c, ctx, "daily",
		http.MethodPost, "/api/v1/user/get-daily", nil, "",
		map[string]int64{"userId": c.state.UserID}, true)
	return rd, err
}

// RefillEnergy spends one full-tank refill. Requires auth. The returned
// FullEnergy carries the refreshed count and cooldown.
func (c *Client) RefillEnergy(ctx context.Context) (*account.FullEnergy, *account.RealtimeData, error) {
	c.log.Info("refilling energy", zap.Int64("userId", c.state.UserID))

	data, rd, err := call[account.FullEnergy](c, ctx, "refill",
		http.MethodPost, "/api/v1/user/set-full-tank", nil, "",
		map[string]int64{"userId": c.state.UserID}, true)
	if err != nil {
		return nil, nil, err
	}
	return &data, rd, nil
}
