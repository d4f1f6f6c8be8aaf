package account

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Exelery/else-bot/internal/storage"
)

func f64(v float64) *float64 { return &v }

func TestApplyRealtime_MergesOnlyPresentFields(t *testing.T) {
	t.Parallel()

	s := NewState(storage.SessionDescriptor{ID: 1})
	s.Balance = 500
	s.PPC = 3
	s.PTC = 120
	s.PTCTotal = 1000
	s.UID = "u-1"

	s.ApplyRealtime(&RealtimeData{
		Balance: f64(600),
		PTC:     f64(90),
	})

	require.Equal(t, 600.0, s.Balance)
	require.Equal(t, 90.0, s.PTC)
	// Fields absent from the payload are untouched, never cleared.
	require.Equal(t, 3.0, s.PPC)
	require.Equal(t, 1000.0, s.PTCTotal)
	require.Equal(t, "u-1", s.UID)
}

func TestApplyRealtime_DecodedPayloadOmitsAbsentFields(t *testing.T) {
	t.Parallel()

	// A wire payload with only two fields must decode into a snapshot whose
	// other fields are nil, so merging cannot zero anything.
	var rd RealtimeData
	require.NoError(t, json.Unmarshal([]byte(`{"balance": 42, "lvl": 2}`), &rd))

	require.NotNil(t, rd.Balance)
	require.NotNil(t, rd.Level)
	require.Nil(t, rd.PTC)
	require.Nil(t, rd.PPC)
	require.Nil(t, rd.UID)
}

func TestApplyRealtime_NilIsNoop(t *testing.T) {
	t.Parallel()

	s := NewState(storage.SessionDescriptor{ID: 1})
	s.Balance = 7
	s.ApplyRealtime(nil)
	require.Equal(t, 7.0, s.Balance)
}

func TestRegen_ClampsAtCapacity(t *testing.T) {
	t.Parallel()

	s := NewState(storage.SessionDescriptor{ID: 1})
	s.PTC = 95
	s.PTCRps = 3
	s.PTCTotal = 100

	s.Regen(1)
	require.Equal(t, 98.0, s.PTC)

	s.Regen(5)
	require.Equal(t, 100.0, s.PTC, "simulated energy must not exceed capacity")

	// Without a known capacity the simulation still advances.
	s.PTCTotal = 0
	s.Regen(1)
	require.Equal(t, 103.0, s.PTC)
}

func TestAuthFresh(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := NewState(storage.SessionDescriptor{ID: 1})
	require.False(t, s.AuthFresh(now, time.Minute), "zero timestamp is never fresh")

	s.AuthObtainedAt = now.Add(-30 * time.Second)
	require.True(t, s.AuthFresh(now, time.Minute))
	require.False(t, s.AuthFresh(now, 10*time.Second))
}

func TestBoostsGet(t *testing.T) {
	t.Parallel()

	b := Boosts{
		Multitap:    BoostInfo{Level: 2, Price: 100},
		EnergyLimit: BoostInfo{Level: 5, Price: 900},
	}
	require.Equal(t, 2, b.Get(BoostMultitap).Level)
	require.Equal(t, 5, b.Get(BoostEnergyLimit).Level)
}

func TestTokenExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(30 * time.Minute).Unix()
	payload, err := json.Marshal(map[string]any{"exp": exp})
	require.NoError(t, err)

	token := "eyJhbGciOiJIUzI1NiJ9." +
		base64.RawURLEncoding.EncodeToString(payload) +
		".sig"

	got, ok := TokenExpiresAt(token)
	require.True(t, ok)
	require.Equal(t, exp, got.Unix())

	_, ok = TokenExpiresAt("not-a-jwt")
	require.False(t, ok)

	_, ok = TokenExpiresAt("a.!!!.c")
	require.False(t, ok)
}
