package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Exelery/else-bot/internal/account"
	"github.com/Exelery/else-bot/internal/api"
	"github.com/Exelery/else-bot/internal/bot"
	"github.com/Exelery/else-bot/internal/config"
	"github.com/Exelery/else-bot/internal/logging"
	"github.com/Exelery/else-bot/internal/pacing"
	"github.com/Exelery/else-bot/internal/realtime"
	"github.com/Exelery/else-bot/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "conf.toml", "path to the config file")
	sessionsPath := flag.String("sessions", "", "path to the sessions file (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	// Optional; env vars also reach the config loader directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logging.New(*debug || cfg.Debug, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer log.Sync()

	sessionsFile := cfg.SessionsFile
	if *sessionsPath != "" {
		sessionsFile = *sessionsPath
	}
	sessions, err := storage.LoadSessions(sessionsFile)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return fmt.Errorf("no sessions in %s", sessionsFile)
	}

	log.Info("starting", zap.Int("accounts", len(sessions)))

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := &storage.InitDataProvider{ReferralID: cfg.ReferralID}

	var wg sync.WaitGroup
	for _, sd := range sessions {
		wg.Add(1)
		go func(sd storage.SessionDescriptor) {
			defer wg.Done()
			runAccount(ctx, cfg, sd, provider, log)
		}(sd)
	}
	wg.Wait()

	log.Info("all accounts stopped")
	return nil
}

// runAccount wires and drives one account until the context ends.
func runAccount(ctx context.Context, cfg *config.Config, sd storage.SessionDescriptor,
	provider bot.StartupDataProvider, log *zap.Logger,
) {
	alog := logging.ForAccount(log, sd.ID)

	state := account.NewState(sd)
	pacer := pacing.New(cfg)
	client := api.NewClient(cfg, state, alog)
	channel := realtime.NewChannel(cfg, state, pacer, alog)

	b := bot.New(cfg, state, client, channel, provider, pacer, alog)
	if err := b.Run(ctx); err != nil && ctx.Err() == nil {
		alog.Error("account stopped", zap.Error(err))
	}
}
