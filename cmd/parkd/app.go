package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/smart-parking/internal/config"
	"github.com/iliyamo/smart-parking/internal/database"
	"github.com/iliyamo/smart-parking/internal/engine"
	"github.com/iliyamo/smart-parking/internal/notify"
	"github.com/iliyamo/smart-parking/internal/repository"
	"github.com/iliyamo/smart-parking/internal/statechannel"
)

// app holds the clients every command shares. Close releases them.
type app struct {
	db      *sql.DB
	ledger  *repository.ReservationRepo
	rdb     *redis.Client
	channel statechannel.Channel
}

func openLedger(ctx context.Context) (*sql.DB, *repository.ReservationRepo, error) {
	db, dialect, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	if dialect == database.SQLite {
		// The embedded schema is idempotent and there is no separate
		// migration step for local ledgers.
		if err := database.Migrate(ctx, db, dialect); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return db, repository.NewReservationRepo(db, dialect), nil
}

func openApp(ctx context.Context) (*app, error) {
	db, ledger, err := openLedger(ctx)
	if err != nil {
		return nil, err
	}
	a := &app{db: db, ledger: ledger}

	switch cfg.ChannelDriver {
	case config.ChannelRedis:
		rdb, err := config.NewRedisClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect state channel: %w", err)
		}
		a.rdb = rdb
		a.channel = statechannel.NewRedisChannel(rdb)
	case config.ChannelMemory:
		logger.Warn().Msg("using in-memory state channel; no sensors or gate controller are connected")
		a.channel = statechannel.NewMemoryChannel()
	}
	return a, nil
}

func (a *app) engine(dispatcher notify.Dispatcher) *engine.Engine {
	return engine.New(a.ledger, a.channel, dispatcher, logger, engine.Options{
		Slots:          cfg.SlotCount,
		Keys:           statechannel.Keys{Prefix: cfg.ChannelPrefix},
		PollInterval:   cfg.PollInterval,
		ChannelTimeout: cfg.ChannelTimeout,
		NotifyTimeout:  cfg.NotifyTimeout,
		Retry: engine.RetryPolicy{
			Attempts:     cfg.RetryAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     cfg.RetryMaxDelay,
			Multiplier:   2,
			Jitter:       true,
		},
	})
}

// dispatcher picks where confirmations go: the broker when configured,
// straight to SMTP when only a relay is configured, otherwise the log.
func dispatcher() notify.Dispatcher {
	mailer := smtpMailer()
	switch {
	case cfg.RabbitMQURL != "":
		logger.Info().Str("queue", cfg.NotifyQueue).Msg("notifications via rabbitmq")
		return notify.NewAMQPDispatcher(cfg.RabbitMQURL, cfg.NotifyQueue, logger)
	case mailer.Enabled():
		logger.Info().Str("smtp_host", cfg.SMTPHost).Msg("notifications via smtp")
		return notify.MailDispatcher{Mailer: mailer}
	}
	logger.Info().Msg("notifications disabled (RABBITMQ_URL and SMTP_HOST not set), logging only")
	return notify.NewLogDispatcher(logger)
}

func smtpMailer() notify.SMTPMailer {
	return notify.SMTPMailer{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	}
}

func (a *app) Close() {
	if a.channel != nil {
		if err := a.channel.Close(); err != nil {
			logger.Warn().Err(err).Msg("close state channel")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.Warn().Err(err).Msg("close ledger")
		}
	}
}
