package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
)

// IncreaseBoost buys the next level of a boost. Requires auth.
func (c *Client) IncreaseBoost(ctx context.Context, kind account.BoostKind, levelToBuy int) (*account.RealtimeData, error) {
	c.log.Info("buying boost",
		zap.Int64("userId", c.state.UserID),
		zap.String("boost", string(kind)),
		zap.Int("levelToBuy", levelToBuy))

	_, rd, err := call[account.BoostInfo](c, ctx, "boost",
		http.MethodPost, "/api/v1/user/boost", nil, "",
		map[string]any{
			"boost":      kind,
			"levelToBuy": levelToBuy,
			"userId":     c.state.UserID,
		}, true)
	return rd, err
}
