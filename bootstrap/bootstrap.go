package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"quantumgrid-backend/internal/application/settlement"
	"quantumgrid-backend/internal/application/ticker"
	"quantumgrid-backend/internal/config"
	"quantumgrid-backend/internal/infrastructure/database"
	"quantumgrid-backend/internal/infrastructure/kafka"
	"quantumgrid-backend/internal/infrastructure/metrics"
	"quantumgrid-backend/internal/interfaces/router"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Runtime owns the process-wide connections the HTTP app and the price feed share.
type Runtime struct {
	Config    *config.Config
	DB        *gorm.DB
	Rdb       *redis.Client
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Ticker    *ticker.Service
	Producer  *kafka.Producer
	PriceFeed *kafka.PriceFeed
}

// New opens the database and Redis, registers metrics and, when brokers are configured,
// builds the trade publisher and the price feed consumer.
func New(cfg *config.Config) (*Runtime, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if cfg.AutoMigrate {
		if err := database.AutoMigrate(db); err != nil {
			closeDB()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		closeDB()
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rt := &Runtime{
		Config:   cfg,
		DB:       db,
		Rdb:      rdb,
		Registry: reg,
		Metrics:  m,
		Ticker:   &ticker.Service{Rdb: rdb, Metrics: m},
	}
	if len(cfg.KafkaBrokers) > 0 {
		rt.Producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTradeTopic)
		if len(cfg.PriceFeedTopics) > 0 {
			rt.PriceFeed = kafka.NewPriceFeed(cfg.KafkaBrokers, cfg.PriceFeedTopics, cfg.PriceFeedGroup, rt.Ticker)
		}
	} else {
		log.Warn().Msg("KAFKA_BROKERS not set: trade events and the price feed are disabled")
	}
	return rt, nil
}

// Verify pings the database and Redis so a misconfigured process fails at startup.
func (r *Runtime) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sqlDB, err := r.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	if err := r.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// Serve checks the connections, starts the price feed and serves app on addr until ctx is done
// or the listener fails. It returns only after the feed has closed its readers.
func (r *Runtime) Serve(ctx context.Context, app *fiber.App, addr string) error {
	if err := r.Verify(ctx); err != nil {
		return fmt.Errorf("startup check: %w", err)
	}
	log.Info().Msg("database and redis connected")

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if r.PriceFeed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.PriceFeed.Run(ctx)
		}()
		log.Info().Strs("topics", r.Config.PriceFeedTopics).Msg("price feed consumer started")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		// Unblocks Serve when shutdown came before the server registered the listener.
		ln.Close()
	}()

	log.Info().Str("addr", ln.Addr().String()).Str("env", r.Config.Env).Msg("server listening")
	serveErr := app.Listener(ln)
	stopped := ctx.Err() != nil
	cancel()
	wg.Wait()
	if stopped {
		return nil
	}
	return serveErr
}

// Deps hands the runtime to the router.
func (r *Runtime) Deps() router.Deps {
	deps := router.Deps{
		DB:       r.DB,
		Rdb:      r.Rdb,
		Metrics:  r.Metrics,
		Gatherer: r.Registry,
		Ticker:   r.Ticker,
	}
	// Leave the interfaces nil rather than holding a nil pointer.
	if r.Producer != nil {
		var pub settlement.Publisher = r.Producer
		deps.Publisher = pub
		deps.Kafka = kafka.BrokerPinger{Brokers: r.Config.KafkaBrokers}
	}
	return deps
}

// Close releases connections in reverse order of New.
func (r *Runtime) Close() error {
	var errs []error
	if r.Producer != nil {
		errs = append(errs, r.Producer.Close())
	}
	errs = append(errs, r.Rdb.Close())
	if sqlDB, err := r.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
