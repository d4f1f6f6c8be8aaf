// Package account holds the per-account state aggregate and the typed
// messages that flow between the realtime channel and the orchestrator.
//
// A State instance has a single logical owner: the orchestrator goroutine of
// its account. The realtime channel never touches it directly; it emits
// Update values that the orchestrator drains and applies itself.
package account

import (
	"time"

	"github.com/Exelery/else-bot/internal/storage"
)

// RealtimeData is the balance/rate snapshot the backend attaches to REST
// responses and pushes over the realtime channel. All fields are pointers so
// a merge only touches what the payload actually carried.
type RealtimeData struct {
	Balance  *float64 `json:"balance,omitempty"`
	Level    *int     `json:"lvl,omitempty"`
	PPC      *float64 `json:"ppc,omitempty"`
	PPH      *float64 `json:"pph,omitempty"`
	PPS      *float64 `json:"pps,omitempty"`
	PTC      *float64 `json:"ptc,omitempty"`
	PTCRps   *float64 `json:"ptc_rps,omitempty"`
	PTCTotal *float64 `json:"ptc_total,omitempty"`
	PST      *float64 `json:"pst,omitempty"`
	UID      *string  `json:"uid,omitempty"`
	MS       *int64   `json:"ms,omitempty"`
}

// FullEnergy describes the energy-refill allowance from the profile.
type FullEnergy struct {
	Count int `json:"count"`
	// Cooldown is a millisecond epoch timestamp; refills are allowed once it
	// has passed.
	Cooldown int64 `json:"cooldown"`
}

// BoostKind names a purchasable boost.
type BoostKind string

const (
	BoostMultitap    BoostKind = "multitap"
	BoostEnergyLimit BoostKind = "energy-limit"
)

// BoostKinds lists the boosts the backend sells.
var BoostKinds = []BoostKind{BoostMultitap, BoostEnergyLimit}

// BoostInfo is one boost's current level and upgrade price.
type BoostInfo struct {
	Level  int     `json:"level"`
	Price  float64 `json:"price"`
	Profit float64 `json:"profit"`
}

// Boosts groups the two purchasable boosts.
type Boosts struct {
	Multitap    BoostInfo `json:"multitap"`
	EnergyLimit BoostInfo `json:"energy-limit"`
}

// Get returns the info for a boost kind.
func (b Boosts) Get(kind BoostKind) BoostInfo {
	if kind == BoostEnergyLimit {
		return b.EnergyLimit
	}
	return b.Multitap
}

// UserInfo is the pulled profile snapshot. Unlike RealtimeData it is replaced
// wholesale on every profile refresh, never merged.
type UserInfo struct {
	FullEnergy FullEnergy `json:"full_energy"`
	Boost      Boosts     `json:"boost"`

	// IsGotDaily reports whether today's daily reward was already claimed.
	IsGotDaily bool `json:"is_got_dar"`
	DayAtRow   int  `json:"day_at_row"`

	TgUserID string `json:"tg_user_id"`
	Name     string `json:"name"`
	LastName string `json:"last_name"`
	Nickname string `json:"nickname"`
	Country  string `json:"country"`
}

// State is the mutable aggregate for one running account session.
type State struct {
	// UserID is the Telegram user id the backend keys everything on.
	UserID int64
	// Session is the immutable descriptor this session was started from.
	Session storage.SessionDescriptor

	// StartupData is the externally obtained identity proof; empty until the
	// login collaborator produced one.
	StartupData string
	// JWT is the session token; empty until a successful bootstrap.
	JWT string
	// AuthObtainedAt records when the auth material was last renewed.
	AuthObtainedAt time.Time

	Balance  float64
	Level    int
	PPC      float64
	PPH      float64
	PPS      float64
	PTC      float64
	PTCRps   float64
	PTCTotal float64
	PST      float64
	UID      string

	// Info is the last pulled profile snapshot, nil before the first refresh.
	Info *UserInfo

	LastProfileRefreshAt time.Time
	LastErrorAt          time.Time
}

// NewState seeds a State from a session descriptor.
func NewState(sd storage.SessionDescriptor) *State {
	return &State{
		UserID:  sd.ID,
		Session: sd,
	}
}

// ApplyRealtime merges a realtime snapshot field by field. Fields absent from
// the payload keep their current value; nothing is ever cleared.
func (s *State) ApplyRealtime(rd *RealtimeData) {
	if rd == nil {
		return
	}
	if rd.Balance != nil {
		s.Balance = *rd.Balance
	}
	if rd.Level != nil {
		s.Level = *rd.Level
	}
	if rd.PPC != nil {
		s.PPC = *rd.PPC
	}
	if rd.PPH != nil {
		s.PPH = *rd.PPH
	}
	if rd.PPS != nil {
		s.PPS = *rd.PPS
	}
	if rd.PTC != nil {
		s.PTC = *rd.PTC
	}
	if rd.PTCRps != nil {
		s.PTCRps = *rd.PTCRps
	}
	if rd.PTCTotal != nil {
		s.PTCTotal = *rd.PTCTotal
	}
	if rd.PST != nil {
		s.PST = *rd.PST
	}
	if rd.UID != nil {
		s.UID = *rd.UID
	}
}

// Regen advances the locally simulated energy by the given number of
// one-second ticks, clamped at capacity. The server's own pushes remain
// authoritative and overwrite the simulation whenever they arrive.
func (s *State) Regen(ticks int) {
	if ticks <= 0 || s.PTCRps <= 0 {
		return
	}
	s.PTC += float64(ticks) * s.PTCRps
	if s.PTCTotal > 0 && s.PTC > s.PTCTotal {
		s.PTC = s.PTCTotal
	}
}

// AuthFresh reports whether auth material obtained at AuthObtainedAt is still
// within the session lifetime.
func (s *State) AuthFresh(now time.Time, lifetime time.Duration) bool {
	return !s.AuthObtainedAt.IsZero() && now.Sub(s.AuthObtainedAt) < lifetime
}
