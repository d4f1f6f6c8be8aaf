package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DelayRange is an inclusive interval that jittered delays are drawn from.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

// Config holds every tunable of the bot. It is constructed once at process
// start and passed by reference into every component; nothing mutates it
// afterwards.
type Config struct {
	// Domain is the REST backend host (no scheme).
	Domain string
	// Origin is the web-app origin sent in the Origin/Referer headers.
	Origin string
	// WSHost is the realtime backend host (no scheme).
	WSHost string
	// ReferralID is appended to the startup data query fragment.
	ReferralID string

	// MaxSessionLifetime bounds how long cached auth material (startup data
	// and JWT) is trusted before it must be refreshed.
	MaxSessionLifetime time.Duration

	// RequestDelay paces individual REST/WS requests.
	RequestDelay DelayRange
	// RunDelay paces normal decision cycles.
	RunDelay DelayRange
	// LongRunDelay paces cycles where the low-energy branch found nothing to do.
	LongRunDelay DelayRange
	// ClaimDelay paces daily-claim retries.
	ClaimDelay DelayRange
	// StartDelayMax staggers per-account startup.
	StartDelayMax time.Duration

	// ActionProbability is the base chance of attempting an optional action.
	ActionProbability float64
	// LowEnergyThreshold is the energy level below which optional actions are
	// considered.
	LowEnergyThreshold float64
	// MinPurchaseBalance gates catalog purchases.
	MinPurchaseBalance float64
	// LowPphThreshold marks accounts with weak passive income.
	LowPphThreshold float64
	// LowPphMultiplier boosts the purchase roll for such accounts.
	LowPphMultiplier float64
	// MaxCategoriesChecked bounds one catalog search pass.
	MaxCategoriesChecked int
	// TapMaxSteps caps how many clicks a single tap burst may simulate.
	TapMaxSteps int

	// PingInterval is the realtime channel idle-keepalive interval.
	PingInterval time.Duration
	// HTTPTimeout bounds every REST call.
	HTTPTimeout time.Duration
	// WSHandshakeTimeout bounds the websocket upgrade.
	WSHandshakeTimeout time.Duration

	// SessionsFile is the JSON file holding session descriptors.
	SessionsFile string
	// LogDir is where JSON log files are written.
	LogDir string
	// Debug enables verbose logging.
	Debug bool
}

// Load resolves configuration from an optional TOML file plus ELSEBOT_*
// environment variables, falling back to the built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ELSEBOT")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("conf")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// A missing default config file is fine; defaults apply.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		Domain:     v.GetString("domain"),
		Origin:     v.GetString("origin"),
		WSHost:     v.GetString("ws_host"),
		ReferralID: v.GetString("referral_id"),

		MaxSessionLifetime: secondsDuration(v, "max_session_lifetime"),

		RequestDelay: delayRange(v, "request_delay"),
		RunDelay:     delayRange(v, "run_delay"),
		LongRunDelay: delayRange(v, "long_run_delay"),
		ClaimDelay:   delayRange(v, "claim_delay"),

		StartDelayMax: secondsDuration(v, "start_delay_max"),

		ActionProbability:    v.GetFloat64("action_probability"),
		LowEnergyThreshold:   v.GetFloat64("low_energy_threshold"),
		MinPurchaseBalance:   v.GetFloat64("min_purchase_balance"),
		LowPphThreshold:      v.GetFloat64("low_pph_threshold"),
		LowPphMultiplier:     v.GetFloat64("low_pph_multiplier"),
		MaxCategoriesChecked: v.GetInt("max_categories_checked"),
		TapMaxSteps:          v.GetInt("tap_max_steps"),

		PingInterval:       secondsDuration(v, "ping_interval"),
		HTTPTimeout:        secondsDuration(v, "http_timeout"),
		WSHandshakeTimeout: secondsDuration(v, "ws_handshake_timeout"),

		SessionsFile: v.GetString("sessions_file"),
		LogDir:       v.GetString("log_dir"),
		Debug:        v.GetBool("debug"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Domain == "" {
		return fmt.Errorf("domain must not be empty")
	}
	if c.WSHost == "" {
		return fmt.Errorf("ws_host must not be empty")
	}
	if c.ActionProbability < 0 || c.ActionProbability > 1 {
		return fmt.Errorf("action_probability %v out of [0, 1]", c.ActionProbability)
	}
	if c.MaxCategoriesChecked <= 0 {
		return fmt.Errorf("max_categories_checked must be positive")
	}
	if c.TapMaxSteps <= 0 {
		return fmt.Errorf("tap_max_steps must be positive")
	}
	for _, r := range []struct {
		name  string
		value DelayRange
	}{
		{"request_delay", c.RequestDelay},
		{"run_delay", c.RunDelay},
		{"long_run_delay", c.LongRunDelay},
		{"claim_delay", c.ClaimDelay},
	} {
		if r.value.Min < 0 || r.value.Max < r.value.Min {
			return fmt.Errorf("%s range is inverted", r.name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("domain", "back.else.app")
	v.SetDefault("origin", "https://front.else.app")
	v.SetDefault("ws_host", "ws-back.else.app")
	v.SetDefault("referral_id", "elsevbipy6ee0aem")

	// The backend session lives ~30 minutes; renewing well before that avoids
	// racing the server-side expiry.
	v.SetDefault("max_session_lifetime", 80)

	v.SetDefault("request_delay.min", 1)
	v.SetDefault("request_delay.max", 2)
	v.SetDefault("run_delay.min", 1)
	v.SetDefault("run_delay.max", 3)
	v.SetDefault("long_run_delay.min", 10)
	v.SetDefault("long_run_delay.max", 3000)
	v.SetDefault("claim_delay.min", 1200)
	v.SetDefault("claim_delay.max", 4800)
	v.SetDefault("start_delay_max", 0)

	v.SetDefault("action_probability", 0.1)
	v.SetDefault("low_energy_threshold", 150)
	v.SetDefault("min_purchase_balance", 10000)
	v.SetDefault("low_pph_threshold", 10000)
	v.SetDefault("low_pph_multiplier", 3)
	v.SetDefault("max_categories_checked", 9)
	v.SetDefault("tap_max_steps", 200)

	v.SetDefault("ping_interval", 50)
	v.SetDefault("http_timeout", 30)
	v.SetDefault("ws_handshake_timeout", 15)

	v.SetDefault("sessions_file", "sessions.json")
	v.SetDefault("log_dir", "logs")
	v.SetDefault("debug", false)
}

// secondsDuration reads a (possibly fractional) seconds value.
func secondsDuration(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}

func delayRange(v *viper.Viper, key string) DelayRange {
	return DelayRange{
		Min: secondsDuration(v, key+".min"),
		Max: secondsDuration(v, key+".max"),
	}
}
