package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
	"github.com/Exelery/else-bot/internal/api"
)

// performAction tries the low-energy maintenance actions in strict priority
// order and applies at most one per cycle: daily claim, energy refill, item
// purchase, boost purchase. Returns whether anything was attempted.
func (b *Bot) performAction(ctx context.Context) bool {
	switch {
	case b.canClaimDaily():
		b.claimDaily(ctx)
	case b.canRefill() && b.pacer.Roll(1):
		b.refill(ctx)
	case b.pacer.Roll(b.purchaseMultiplier()) && b.state.Balance > b.cfg.MinPurchaseBalance:
		b.findAndBuy(ctx)
	case b.pacer.Roll(1):
		return b.buyBoost(ctx)
	default:
		return false
	}
	return true
}

// purchaseMultiplier biases item purchases while passive income is still low.
func (b *Bot) purchaseMultiplier() float64 {
	if b.state.PPH < b.cfg.LowPphThreshold {
		return b.cfg.LowPphMultiplier
	}
	return 1
}

func (b *Bot) canClaimDaily() bool {
	if b.state.Info == nil || b.state.Info.IsGotDaily {
		return false
	}
	return time.Now().After(b.nextDailyAt)
}

// claimDaily claims the daily reward and re-pulls the profile so IsGotDaily
// flips. Attempts are throttled either way.
func (b *Bot) claimDaily(ctx context.Context) {
	b.nextDailyAt = time.Now().Add(b.pacer.ClaimDelay())

	rd, err := b.api.ClaimDaily(ctx)
	if err != nil {
		return
	}
	b.state.ApplyRealtime(rd)
	b.log.Info("daily reward claimed",
		zap.Int64("userId", b.state.UserID),
		zap.Float64("balance", b.state.Balance))

	if err := b.refreshProfile(ctx); err != nil {
		b.log.Warn("profile refresh after daily claim failed",
			zap.Int64("userId", b.state.UserID), zap.Error(err))
	}
}

func (b *Bot) canRefill() bool {
	info := b.state.Info
	if info == nil || info.FullEnergy.Count <= 0 {
		return false
	}
	return time.Now().UnixMilli() > info.FullEnergy.Cooldown
}

// refill spends one full-tank refill and folds the refreshed allowance back
// into the profile snapshot.
func (b *Bot) refill(ctx context.Context) {
	fe, rd, err := b.api.RefillEnergy(ctx)
	if err != nil {
		return
	}
	b.state.ApplyRealtime(rd)
	if fe != nil {
		b.state.Info.FullEnergy = *fe
	}
	b.log.Info("energy refilled",
		zap.Int64("userId", b.state.UserID),
		zap.Float64("ptc", b.state.PTC),
		zap.Int("refillsLeft", b.state.Info.FullEnergy.Count))
}

// findAndBuy samples the catalog for something affordable and buys it, going
// back for a second purchase on some cycles the way a player browsing the
// shop would. Both the category and the item within it are picked at random.
func (b *Bot) findAndBuy(ctx context.Context) {
	categories, rd, err := b.api.ListCategories(ctx)
	if err != nil {
		return
	}
	b.state.ApplyRealtime(rd)

	buys := b.pacer.IntBetween(1, 2)
	for i := 0; i < buys; i++ {
		pick, ok := b.sampleAffordableItem(ctx, categories)
		if !ok {
			b.log.Debug("no affordable item found",
				zap.Int64("userId", b.state.UserID),
				zap.Float64("balance", b.state.Balance))
			return
		}

		rd, err := b.api.PurchaseItem(ctx, pick.ID, pick.NextLevel)
		if err != nil {
			return
		}
		b.state.ApplyRealtime(rd)
		b.log.Info("item purchased",
			zap.Int64("userId", b.state.UserID),
			zap.String("item", pick.Name),
			zap.Int("level", pick.NextLevel),
			zap.Float64("price", pick.Price),
			zap.Float64("balance", b.state.Balance))

		if err := waitFor(ctx, b.pacer.RequestDelay()); err != nil {
			return
		}
	}
}

// sampleAffordableItem visits categories in random order until one offers an
// affordable unlocked item, then picks one of those uniformly. The number of
// visits is bounded so one cycle never turns into a full catalog crawl.
func (b *Bot) sampleAffordableItem(ctx context.Context, categories []api.Category) (api.Item, bool) {
	remaining := make([]api.Category, len(categories))
	copy(remaining, categories)

	for visited := 0; len(remaining) > 0 && visited < b.cfg.MaxCategoriesChecked; visited++ {
		idx := b.pacer.IntBetween(0, len(remaining)-1)
		cat := remaining[idx]
		remaining = append(remaining[:idx], remaining[idx+1:]...)

		if err := waitFor(ctx, b.pacer.RequestDelay()); err != nil {
			return api.Item{}, false
		}
		items, rd, err := b.api.ListCategoryItems(ctx, cat.ID)
		if err != nil {
			return api.Item{}, false
		}
		b.state.ApplyRealtime(rd)

		var affordable []api.Item
		for _, it := range items {
			if it.Unlocked() && it.Price > 0 && it.Price < b.state.Balance {
				affordable = append(affordable, it)
			}
		}
		if len(affordable) > 0 {
			return affordable[b.pacer.IntBetween(0, len(affordable)-1)], true
		}
	}
	return api.Item{}, false
}

// buyBoost picks a random boost and buys its next level when the balance
// covers it. Returns whether a purchase was attempted.
func (b *Bot) buyBoost(ctx context.Context) bool {
	if b.state.Info == nil {
		return false
	}

	kind := account.BoostKinds[b.pacer.IntBetween(0, len(account.BoostKinds)-1)]
	info := b.state.Info.Boost.Get(kind)
	if info.Price <= 0 || info.Price >= b.state.Balance {
		return false
	}

	rd, err := b.api.IncreaseBoost(ctx, kind, info.Level+1)
	if err != nil {
		return true
	}
	b.state.ApplyRealtime(rd)
	b.log.Info("boost purchased",
		zap.Int64("userId", b.state.UserID),
		zap.String("boost", string(kind)),
		zap.Int("level", info.Level+1),
		zap.Float64("balance", b.state.Balance))

	if err := b.refreshProfile(ctx); err != nil {
		b.log.Warn("profile refresh after boost failed",
			zap.Int64("userId", b.state.UserID), zap.Error(err))
	}
	return true
}

// refreshProfile replaces the profile snapshot wholesale.
func (b *Bot) refreshProfile(ctx context.Context) error {
	info, rd, err := b.api.FetchProfile(ctx)
	if err != nil {
		return err
	}
	b.state.Info = info
	b.state.LastProfileRefreshAt = time.Now()
	b.state.ApplyRealtime(rd)
	return nil
}
