package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres stdlib driver, used for migrations.
	"github.com/redis/go-redis/v9"

	"bankbot/internal/bot"
	"bankbot/internal/bot/convo"
	"bankbot/internal/core/ledger"
	"bankbot/internal/core/ledger/store/ledgerdb"
	"bankbot/internal/data/dbschema"
	db "bankbot/internal/data/dbsql/pgx"
	"bankbot/internal/logger"
	"bankbot/internal/trace"
)

var build = "develop"

func main() {
	log := logger.New("BankBot")

	if err := run(log); err != nil {
		log.Error("startup", "ERROR", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// =========================================================================
	// Configuration

	cfg := struct {
		conf.Version
		Env string `conf:"default:DEV"`
		Bot struct {
			Token           string        `conf:"mask"`
			UpdateTimeout   int           `conf:"default:60"`
			ConversationTTL time.Duration `conf:"default:15m"`
		}
		DB struct {
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,mask"`
			Host       string `conf:"default:postgres:5432"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
		}
		Redis struct {
			Host string `conf:"default:redis:6379"`
		}
		Trace struct {
			Endpoint       string  `conf:"default:collector:4317"`
			SampleFraction float64 `conf:"default:1"`
			Discard        bool    `conf:"default:true"`
		}
	}{
		Version: conf.Version{
			Build: build,
		},
	}

	const prefix = "BANKBOT"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Info("starting service", "version", build)
	defer log.Info("shutdown complete")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Info("startup", "config", out)

	// =========================================================================
	// Database Support

	log.Info("startup", "status", "initializing database support", "host", cfg.DB.Host)

	dbCfg := db.Config{
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
	}
	database, err := db.Open(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Info("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
		database.Close()
	}()

	ctxWithTimeout, cancelCheck := context.WithTimeout(ctx, 30*time.Second)
	defer cancelCheck()
	if err := db.StatusCheck(ctxWithTimeout, database); err != nil {
		return fmt.Errorf("database not health: %w", err)
	}

	stdDB, err := sql.Open("pgx", db.ConnString(dbCfg))
	if err != nil {
		return fmt.Errorf("failed to open DB for migration: %w", err)
	}

	if err := dbschema.Migrate(stdDB); err != nil {
		stdDB.Close()
		return fmt.Errorf("migrating error: %w", err)
	}
	stdDB.Close()

	// =========================================================================
	// Redis Support

	log.Info("startup", "status", "initializing redis support", "host", cfg.Redis.Host)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Host})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not health: %w", err)
	}

	// Telegram allows a single long-polling consumer per token. The
	// lock makes extra replicas fail fast instead of stealing updates.
	rs := redsync.New(redsyncredis.NewPool(rdb))
	pollerMu := rs.NewMutex("bankbot:poller", redsync.WithExpiry(30*time.Second))
	if err := pollerMu.LockContext(ctx); err != nil {
		return fmt.Errorf("another poller instance holds the lock: %w", err)
	}
	defer pollerMu.Unlock()

	go func() {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := pollerMu.ExtendContext(ctx); err != nil {
					log.Error("extending poller lock", "ERROR", err)
				}
			}
		}
	}()

	// =========================================================================
	// Tracing Support

	traceProvider, err := trace.NewProvider(ctx, trace.Config{
		Env:            cfg.Env,
		Endpoint:       cfg.Trace.Endpoint,
		Service:        "BankBot",
		SampleFraction: cfg.Trace.SampleFraction,
		DiscardTraces:  cfg.Trace.Discard,
	})
	if err != nil {
		return fmt.Errorf("trace provider: %w", err)
	}
	defer traceProvider.Shutdown(context.Background())
	tracer := traceProvider.Tracer("bankbot")

	// =========================================================================
	// Start Bot

	log.Info("startup", "status", "initializing telegram bot")

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return fmt.Errorf("bot init: %w", err)
	}

	core := ledger.NewCore(ledgerdb.NewStore(log, database))
	states := convo.NewStore(rdb, cfg.Bot.ConversationTTL)
	handler := bot.NewHandler(api, log, tracer, core, states)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		log.Info("shutdown", "status", "shutdown started", "signal", sig)
		cancel()
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Bot.UpdateTimeout
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := api.GetUpdatesChan(u)

	log.Info("startup", "status", "bot started", "account", api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			api.StopReceivingUpdates()
			return nil
		case upd := <-updates:
			handler.HandleUpdate(ctx, upd)
		}
	}
}
