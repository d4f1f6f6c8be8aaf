package bot

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
	"github.com/Exelery/else-bot/internal/api"
	"github.com/Exelery/else-bot/internal/config"
	"github.com/Exelery/else-bot/internal/pacing"
	"github.com/Exelery/else-bot/internal/realtime"
	"github.com/Exelery/else-bot/internal/storage"
)

func ptr[T any](v T) *T { return &v }

// fakeBackend records which operations ran, in order.
type fakeBackend struct {
	calls []string

	bootstrapRes *api.StartupResult
	bootstrapRD  *account.RealtimeData
	bootstrapErr error
	profile      *account.UserInfo
	categories   []api.Category
	itemsByCat   map[string][]api.Item
	purchaseRD   *account.RealtimeData

	purchasedIDs   []string
	purchasedLevel int
	boostKind      account.BoostKind
	boostLevel     int

	// onProfile observes state at the moment the profile is fetched.
	onProfile func()
}

func (f *fakeBackend) Bootstrap(context.Context) (*api.StartupResult, *account.RealtimeData, error) {
	f.calls = append(f.calls, "bootstrap")
	if f.bootstrapErr != nil {
		return nil, nil, f.bootstrapErr
	}
	return f.bootstrapRes, f.bootstrapRD, nil
}

func (f *fakeBackend) FetchProfile(context.Context) (*account.UserInfo, *account.RealtimeData, error) {
	f.calls = append(f.calls, "profile")
	if f.onProfile != nil {
		f.onProfile()
	}
	info := account.UserInfo{}
	if f.profile != nil {
		info = *f.profile
	}
	return &info, nil, nil
}

func (f *fakeBackend) FetchConfig(context.Context) ([]api.ConfigEntry, error) {
	f.calls = append(f.calls, "config")
	return nil, nil
}

func (f *fakeBackend) ListTasks(context.Context, int, int) (*api.TaskList, error) {
	f.calls = append(f.calls, "tasks")
	return &api.TaskList{}, nil
}

func (f *fakeBackend) ClaimDaily(context.Context) (*account.RealtimeData, error) {
	f.calls = append(f.calls, "daily")
	return &account.RealtimeData{Balance: ptr(2000.0)}, nil
}

func (f *fakeBackend) RefillEnergy(context.Context) (*account.FullEnergy, *account.RealtimeData, error) {
	f.calls = append(f.calls, "refill")
	return &account.FullEnergy{Count: 0, Cooldown: time.Now().Add(time.Hour).UnixMilli()},
		&account.RealtimeData{PTC: ptr(1000.0)}, nil
}

func (f *fakeBackend) ListCategories(context.Context) ([]api.Category, *account.RealtimeData, error) {
	f.calls = append(f.calls, "categories")
	return f.categories, nil, nil
}

func (f *fakeBackend) ListCategoryItems(_ context.Context, categoryID string) ([]api.Item, *account.RealtimeData, error) {
	f.calls = append(f.calls, "items:"+categoryID)
	return f.itemsByCat[categoryID], nil, nil
}

func (f *fakeBackend) PurchaseItem(_ context.Context, itemID string, levelToBuy int) (*account.RealtimeData, error) {
	f.calls = append(f.calls, "purchase")
	f.purchasedIDs = append(f.purchasedIDs, itemID)
	f.purchasedLevel = levelToBuy
	return f.purchaseRD, nil
}

func (f *fakeBackend) IncreaseBoost(_ context.Context, kind account.BoostKind, levelToBuy int) (*account.RealtimeData, error) {
	f.calls = append(f.calls, "boost")
	f.boostKind = kind
	f.boostLevel = levelToBuy
	return nil, nil
}

func (f *fakeBackend) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c == op {
			n++
		}
	}
	return n
}

// fakeChannel records taps and feeds updates.
type fakeChannel struct {
	updates chan account.Update
	taps    []float64
	tapErr  error
	state   realtime.ConnState
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		updates: make(chan account.Update, 16),
		state:   realtime.StateOpen,
	}
}

func (f *fakeChannel) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeChannel) Updates() <-chan account.Update { return f.updates }

func (f *fakeChannel) SendTap(_ context.Context, points float64) error {
	if f.tapErr != nil {
		return f.tapErr
	}
	f.taps = append(f.taps, points)
	return nil
}

func (f *fakeChannel) State() realtime.ConnState { return f.state }

type fakeProvider struct{ data string }

func (p fakeProvider) ObtainStartupData(context.Context, storage.SessionDescriptor) (string, error) {
	return p.data, nil
}

func botConfig() *config.Config {
	return &config.Config{
		ActionProbability:    1,
		LowEnergyThreshold:   150,
		MinPurchaseBalance:   10000,
		LowPphThreshold:      10000,
		LowPphMultiplier:     3,
		MaxCategoriesChecked: 9,
		TapMaxSteps:          200,
		MaxSessionLifetime:   80 * time.Second,
	}
}

func newTestBot(cfg *config.Config, fb *fakeBackend, fc *fakeChannel) (*Bot, *account.State) {
	state := account.NewState(storage.SessionDescriptor{ID: 42})
	b := &Bot{
		cfg:      cfg,
		state:    state,
		api:      fb,
		ch:       fc,
		provider: fakeProvider{data: "userId=42&sign=sig"},
		pacer:    pacing.NewWithRand(cfg, rand.New(rand.NewSource(1))),
		log:      zap.NewNop(),
	}
	return b, state
}

func TestPerformAction_DailyBeatsRefill(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{profile: &account.UserInfo{IsGotDaily: true}}
	b, state := newTestBot(botConfig(), fb, newFakeChannel())

	// Daily unclaimed and a refill available in the same cycle.
	state.Info = &account.UserInfo{
		IsGotDaily: false,
		FullEnergy: account.FullEnergy{Count: 3, Cooldown: 0},
	}

	require.True(t, b.performAction(context.Background()))
	require.Equal(t, 1, fb.count("daily"))
	require.Zero(t, fb.count("refill"), "at most one action per cycle, daily first")
	require.Equal(t, 2000.0, state.Balance)
	// The claim re-pulls the profile so IsGotDaily flips.
	require.Equal(t, 1, fb.count("profile"))
	require.True(t, state.Info.IsGotDaily)
}

func TestPerformAction_RefillAfterDailyDone(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{}
	b, state := newTestBot(botConfig(), fb, newFakeChannel())

	state.Info = &account.UserInfo{
		IsGotDaily: true,
		FullEnergy: account.FullEnergy{Count: 2, Cooldown: 0},
	}

	require.True(t, b.performAction(context.Background()))
	require.Equal(t, 1, fb.count("refill"))
	require.Equal(t, 1000.0, state.PTC)
	require.Equal(t, 0, state.Info.FullEnergy.Count, "refreshed allowance folded back")
}

func TestPerformAction_RefillRespectsCooldown(t *testing.T) {
	t.Parallel()

	cfg := botConfig()
	cfg.ActionProbability = 0 // every probabilistic branch declines
	fb := &fakeBackend{}
	b, state := newTestBot(cfg, fb, newFakeChannel())

	state.Info = &account.UserInfo{
		IsGotDaily: true,
		FullEnergy: account.FullEnergy{
			Count:    2,
			Cooldown: time.Now().Add(time.Hour).UnixMilli(),
		},
	}

	require.False(t, b.performAction(context.Background()))
	require.Empty(t, fb.calls)
}

func TestPerformAction_BoostWhenNothingElseApplies(t *testing.T) {
	t.Parallel()

	cfg := botConfig()
	fb := &fakeBackend{}
	b, state := newTestBot(cfg, fb, newFakeChannel())

	// Balance below the purchase floor keeps the item branch out.
	state.Balance = 5000
	state.Info = &account.UserInfo{
		IsGotDaily: true,
		Boost: account.Boosts{
			Multitap:    account.BoostInfo{Level: 2, Price: 1000},
			EnergyLimit: account.BoostInfo{Level: 1, Price: 800},
		},
	}

	require.True(t, b.performAction(context.Background()))
	require.Equal(t, 1, fb.count("boost"))
	require.Equal(t, state.Info.Boost.Get(fb.boostKind).Level+1, fb.boostLevel)
}

func TestFindAndBuy_PurchasesOnlyFromAffordableSet(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		categories: []api.Category{{ID: "c1"}, {ID: "c2"}},
		itemsByCat: map[string][]api.Item{
			"c1": {
				{ID: "locked", Price: 100, NextLevel: 2,
					Limitation: api.ItemLimitation{Disabled: true}},
				{ID: "rich", Price: 99999, NextLevel: 1},
			},
			"c2": {
				{ID: "cheap", Price: 200, NextLevel: 3},
				{ID: "fancy", Price: 400, NextLevel: 2},
			},
		},
		purchaseRD: &account.RealtimeData{Balance: ptr(100.0)},
	}
	b, state := newTestBot(botConfig(), fb, newFakeChannel())
	state.Balance = 20000

	b.findAndBuy(context.Background())

	// Whichever random pick landed, it must come from the affordable unlocked
	// set; the purchase snapshot then drains the balance so no second buy fits.
	require.Len(t, fb.purchasedIDs, 1)
	require.Contains(t, []string{"cheap", "fancy"}, fb.purchasedIDs[0])
	levels := map[string]int{"cheap": 3, "fancy": 2}
	require.Equal(t, levels[fb.purchasedIDs[0]], fb.purchasedLevel)
	require.Equal(t, 100.0, state.Balance)
}

func TestFindAndBuy_RepeatsWithinBounds(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{
		categories: []api.Category{{ID: "c1"}},
		itemsByCat: map[string][]api.Item{
			"c1": {{ID: "cheap", Price: 200, NextLevel: 3}},
		},
	}
	b, state := newTestBot(botConfig(), fb, newFakeChannel())
	state.Balance = 20000

	b.findAndBuy(context.Background())

	// One or two buys per cycle, never more.
	require.GreaterOrEqual(t, fb.count("purchase"), 1)
	require.LessOrEqual(t, fb.count("purchase"), 2)
	for _, id := range fb.purchasedIDs {
		require.Equal(t, "cheap", id)
	}
}

func TestFindAndBuy_BoundedCategoryWalk(t *testing.T) {
	t.Parallel()

	cfg := botConfig()
	cfg.MaxCategoriesChecked = 2
	fb := &fakeBackend{
		categories: []api.Category{{ID: "c1"}, {ID: "c2"}, {ID: "c3"}},
		itemsByCat: map[string][]api.Item{},
	}
	b, state := newTestBot(cfg, fb, newFakeChannel())
	state.Balance = 20000

	b.findAndBuy(context.Background())

	itemCalls := 0
	for _, c := range fb.calls {
		if strings.HasPrefix(c, "items:") {
			itemCalls++
		}
	}
	require.Equal(t, 2, itemCalls, "search stops at the visit bound")
	require.Zero(t, fb.count("purchase"))
}

func TestStartup_BootstrapBeforeProfile(t *testing.T) {
	t.Parallel()

	var jwtAtProfile string
	fb := &fakeBackend{
		bootstrapRes: &api.StartupResult{JWT: "tok", AccumulatedPoints: 500},
		bootstrapRD:  &account.RealtimeData{Balance: ptr(500.0), PPC: ptr(3.0)},
		profile:      &account.UserInfo{IsGotDaily: false, DayAtRow: 2},
	}
	b, state := newTestBot(botConfig(), fb, newFakeChannel())
	fb.onProfile = func() { jwtAtProfile = state.JWT }

	require.NoError(t, b.startup(context.Background()))

	require.Equal(t, []string{"bootstrap", "profile", "config", "tasks"}, fb.calls)
	require.Equal(t, "tok", jwtAtProfile, "token must be held before authenticated pulls")
	require.Equal(t, "userId=42&sign=sig", state.StartupData)
	require.Equal(t, 500.0, state.Balance)
	require.NotNil(t, state.Info)
	require.False(t, state.AuthObtainedAt.IsZero())
}

func TestStartup_SkipsBootstrapWhenAuthFresh(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{profile: &account.UserInfo{}}
	b, state := newTestBot(botConfig(), fb, newFakeChannel())
	state.JWT = "existing"
	state.AuthObtainedAt = time.Now()

	require.NoError(t, b.startup(context.Background()))

	require.Zero(t, fb.count("bootstrap"))
	require.Equal(t, "existing", state.JWT)
	require.Equal(t, 1, fb.count("profile"))
}

func TestTap_DebitsSimulatedEnergy(t *testing.T) {
	t.Parallel()

	fc := newFakeChannel()
	b, state := newTestBot(botConfig(), &fakeBackend{}, fc)
	state.PPC = 3
	state.PTC = 300
	state.PTCTotal = 300

	b.tap(context.Background())

	require.Len(t, fc.taps, 1)
	points := fc.taps[0]
	require.Positive(t, points)
	require.Less(t, points, 300.0)
	require.Equal(t, 300-points, state.PTC)
}

func TestTap_NoDebitWhenChannelDown(t *testing.T) {
	t.Parallel()

	fc := newFakeChannel()
	fc.tapErr = realtime.ErrNotOpen
	b, state := newTestBot(botConfig(), &fakeBackend{}, fc)
	state.PPC = 3
	state.PTC = 300
	state.PTCTotal = 300

	b.tap(context.Background())

	require.Empty(t, fc.taps)
	require.Equal(t, 300.0, state.PTC, "unsent taps must not drain the simulation")
}

func TestRun_DormantAfterStartupFailure(t *testing.T) {
	t.Parallel()

	fb := &fakeBackend{bootstrapErr: errors.New("no captured init data")}
	b, _ := newTestBot(botConfig(), fb, newFakeChannel())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("account exited instead of going dormant: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestTap_NoopWithoutEnergy(t *testing.T) {
	t.Parallel()

	fc := newFakeChannel()
	b, state := newTestBot(botConfig(), &fakeBackend{}, fc)
	state.PPC = 3
	state.PTC = 2

	b.tap(context.Background())
	require.Empty(t, fc.taps)
}

func TestDrainUpdates_AppliesPushAndRegen(t *testing.T) {
	t.Parallel()

	fc := newFakeChannel()
	b, state := newTestBot(botConfig(), &fakeBackend{}, fc)
	state.PTCTotal = 100

	fc.updates <- account.PushUpdate{Data: account.RealtimeData{
		Balance: ptr(450.0), PTC: ptr(90.0), PTCRps: ptr(3.0),
	}}
	fc.updates <- account.RegenUpdate{Ticks: 5}

	b.drainUpdates()

	require.Equal(t, 450.0, state.Balance)
	// 90 + 5*3 clamped at capacity.
	require.Equal(t, 100.0, state.PTC)
}
