package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
)

// Category is one catalog category.
type Category struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Total       int    `json:"total"`
	Used        int    `json:"used"`
}

// ItemLimitation gates an item's availability.
type ItemLimitation struct {
	Level    int  `json:"level"`
	Friends  int  `json:"friends"`
	Disabled bool `json:"disabled"`
}

// Item is one purchasable catalog upgrade.
type Item struct {
	ID           string         `json:"_id"`
	Name         string         `json:"name"`
	Order        int            `json:"order"`
	Limitation   ItemLimitation `json:"limitation"`
	CurrentLevel int            `json:"currentLevel"`
	NextLevel    int            `json:"nextLevel"`
	Price        float64        `json:"price"`
	Profit       float64        `json:"profit"`
	NextProfit   float64        `json:"nextProfit"`
}

// Unlocked reports whether the item can currently be bought at all.
func (i Item) Unlocked() bool { return !i.Limitation.Disabled }

// ListCategories fetches all catalog categories.
func (c *Client) ListCategories(ctx context.Context) ([]Category, *account.RealtimeData, error) {
	return call[[]Category](c, ctx, "categories",
		http.MethodGet, "/api/v1/item/categories", c.userQuery(), "", nil, false)
}

// ListCategoryItems fetches the items of one category.
func (c *Client) ListCategoryItems(ctx context.Context, categoryID string) ([]Item, *account.RealtimeData, error) {
	query := c.userQuery()
	query.Set("categoryId", categoryID)
	return call[[]Item](c, ctx, "items",
		http.MethodGet, "/api/v1/item", query, "", nil, false)
}

// PurchaseItem buys one catalog item at the given level.
func (c *Client) PurchaseItem(ctx context.Context, itemID string, levelToBuy int) (*account.RealtimeData, error) {
	c.log.Info("purchasing item",
		zap.Int64("userId", c.state.UserID),
		zap.String("itemId", itemID),
		zap.Int("levelToBuy", levelToBuy))

	_, rd, err := call[map[string]any](c, ctx, "purchase",
		http.MethodPost, "/api/v1/item/purchase", nil, "",
		map[string]any{
			"userId":     c.state.UserID,
			"itemId":     itemID,
			"levelToBuy": levelToBuy,
		}, false)
	return rd, err
}
