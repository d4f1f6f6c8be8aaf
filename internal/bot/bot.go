// Package bot runs the per-account orchestrator: it owns the account state,
// drives startup (identity proof, bootstrap, profile), keeps the realtime
// channel fed with taps and spends the balance on upgrades on a jittered,
// probabilistic schedule.
package bot

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
	"github.com/Exelery/else-bot/internal/api"
	"github.com/Exelery/else-bot/internal/config"
	"github.com/Exelery/else-bot/internal/pacing"
	"github.com/Exelery/else-bot/internal/realtime"
	"github.com/Exelery/else-bot/internal/storage"
)

// backend is the REST surface the orchestrator consumes. Implemented by
// *api.Client; faked in tests.
type backend interface {
	Bootstrap(ctx context.Context) (*api.StartupResult, *account.RealtimeData, error)
	FetchProfile(ctx context.Context) (*account.UserInfo, *account.RealtimeData, error)
	FetchConfig(ctx context.Context) ([]api.ConfigEntry, error)
	ListTasks(ctx context.Context, page, perPage int) (*api.TaskList, error)
	ClaimDaily(ctx context.Context) (*account.RealtimeData, error)
	RefillEnergy(ctx context.Context) (*account.FullEnergy, *account.RealtimeData, error)
	ListCategories(ctx context.Context) ([]api.Category, *account.RealtimeData, error)
	ListCategoryItems(ctx context.Context, categoryID string) ([]api.Item, *account.RealtimeData, error)
	PurchaseItem(ctx context.Context, itemID string, levelToBuy int) (*account.RealtimeData, error)
	IncreaseBoost(ctx context.Context, kind account.BoostKind, levelToBuy int) (*account.RealtimeData, error)
}

// channel is the realtime surface the orchestrator consumes. Implemented by
// *realtime.Channel; faked in tests.
type channel interface {
	Run(ctx context.Context) error
	Updates() <-chan account.Update
	SendTap(ctx context.Context, points float64) error
	State() realtime.ConnState
}

// StartupDataProvider produces the identity proof a session authenticates
// with. The bot treats it as an opaque collaborator so account acquisition
// stays pluggable.
type StartupDataProvider interface {
	ObtainStartupData(ctx context.Context, sd storage.SessionDescriptor) (string, error)
}

// Bot orchestrates one account end to end. It is the single owner of the
// account state; the channel communicates through the Updates queue only.
type Bot struct {
	cfg      *config.Config
	state    *account.State
	api      backend
	ch       channel
	provider StartupDataProvider
	pacer    *pacing.Source
	log      *zap.Logger

	// nextDailyAt throttles daily-claim attempts so a failing claim is not
	// retried every cycle.
	nextDailyAt time.Time
}

// New wires an orchestrator from production parts.
func New(cfg *config.Config, state *account.State, client *api.Client,
	ch *realtime.Channel, provider StartupDataProvider,
	pacer *pacing.Source, log *zap.Logger,
) *Bot {
	return &Bot{
		cfg:      cfg,
		state:    state,
		api:      client,
		ch:       ch,
		provider: provider,
		pacer:    pacer,
		log:      log,
	}
}

// Run drives the account until ctx is cancelled. An account that cannot
// start (no login material, bootstrap rejected) goes dormant instead of
// exiting, so the rest of the fleet keeps running and shutdown stays uniform.
// Decision-cycle failures are logged and the loop continues.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.stagger(ctx); err != nil {
		return err
	}

	if err := b.startup(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.log.Error("startup failed, account dormant",
			zap.Int64("userId", b.state.UserID),
			zap.Error(err))
		<-ctx.Done()
		return ctx.Err()
	}

	go b.ch.Run(ctx)

	return b.loop(ctx)
}

// stagger desynchronizes account starts so a fleet does not hit the backend
// in lockstep.
func (b *Bot) stagger(ctx context.Context) error {
	if b.cfg.StartDelayMax <= 0 {
		return nil
	}
	delay := time.Duration(rand.Int63n(int64(b.cfg.StartDelayMax)))
	b.log.Debug("staggering start",
		zap.Int64("userId", b.state.UserID),
		zap.Duration("delay", delay))
	return waitFor(ctx, delay)
}

// startup brings the account to a runnable state: identity proof, token,
// profile snapshot and the read-only config/task pulls the web client makes.
func (b *Bot) startup(ctx context.Context) error {
	if b.state.AuthFresh(time.Now(), b.cfg.MaxSessionLifetime) {
		b.log.Debug("reusing fresh auth", zap.Int64("userId", b.state.UserID))
	} else {
		startupData, err := b.provider.ObtainStartupData(ctx, b.state.Session)
		if err != nil {
			return err
		}
		b.state.StartupData = startupData

		res, rd, err := b.api.Bootstrap(ctx)
		if err != nil {
			return err
		}
		b.state.JWT = res.JWT
		b.state.AuthObtainedAt = time.Now()
		b.state.ApplyRealtime(rd)

		if exp, ok := account.TokenExpiresAt(res.JWT); ok {
			b.log.Debug("session token obtained",
				zap.Int64("userId", b.state.UserID),
				zap.Time("expiresAt", exp))
		}
		b.log.Info("account bootstrapped",
			zap.Int64("userId", b.state.UserID),
			zap.Float64("balance", b.state.Balance),
			zap.Bool("justCreated", res.JustCreated))

		if err := waitFor(ctx, b.pacer.RequestDelay()); err != nil {
			return err
		}
	}

	if err := b.refreshProfile(ctx); err != nil {
		return err
	}
	if err := waitFor(ctx, b.pacer.RequestDelay()); err != nil {
		return err
	}

	// The web client pulls these on load; mirror it even though the answers
	// do not steer any decision yet.
	if _, err := b.api.FetchConfig(ctx); err != nil {
		b.log.Warn("config pull failed", zap.Int64("userId", b.state.UserID), zap.Error(err))
	}
	if tasks, err := b.api.ListTasks(ctx, 1, 10); err != nil {
		b.log.Warn("task pull failed", zap.Int64("userId", b.state.UserID), zap.Error(err))
	} else {
		b.log.Debug("tasks listed",
			zap.Int64("userId", b.state.UserID),
			zap.Int("total", tasks.Total.TotalCount))
	}

	return nil
}

// loop is the decision cycle: fold in pending updates, tap, and when energy
// runs low try at most one maintenance action, idling long if none applied.
func (b *Bot) loop(ctx context.Context) error {
	for {
		b.drainUpdates()

		b.tap(ctx)

		delay := b.pacer.RunDelay()
		if b.state.PTC < b.cfg.LowEnergyThreshold {
			if acted := b.performAction(ctx); !acted {
				delay = b.pacer.LongRunDelay()
				b.log.Debug("idling on low energy",
					zap.Int64("userId", b.state.UserID),
					zap.Float64("ptc", b.state.PTC),
					zap.Duration("delay", delay))
			}
		}

		if err := waitFor(ctx, delay); err != nil {
			return err
		}
	}
}

// drainUpdates applies every queued channel update to the state without
// blocking.
func (b *Bot) drainUpdates() {
	for {
		select {
		case u := <-b.ch.Updates():
			switch v := u.(type) {
			case account.PushUpdate:
				b.state.ApplyRealtime(&v.Data)
			case account.RegenUpdate:
				b.state.Regen(v.Ticks)
			}
		default:
			return
		}
	}
}

// tap claims a burst of points over the channel and debits the local energy
// simulation. Server pushes remain authoritative and overwrite the debit. A
// tap that never went out, including over a down channel, leaves the
// simulation untouched.
func (b *Bot) tap(ctx context.Context) {
	points := b.pacer.GeneratePoints(b.state.PPC, b.state.PTC)
	if points <= 0 {
		return
	}

	if err := b.ch.SendTap(ctx, points); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, realtime.ErrNotOpen) {
			b.log.Warn("tap failed",
				zap.Int64("userId", b.state.UserID),
				zap.Error(err))
		}
		return
	}

	b.state.PTC -= points
	if b.state.PTC < 0 {
		b.state.PTC = 0
	}
	b.log.Debug("tapped",
		zap.Int64("userId", b.state.UserID),
		zap.Float64("points", points),
		zap.Float64("ptc", b.state.PTC))
}

// waitFor sleeps for d or until ctx ends.
func waitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
