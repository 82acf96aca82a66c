package router

import (
	"context"

	healthsvc "quantumgrid-backend/internal/application/health"
	lesvc "quantumgrid-backend/internal/application/listingevents"
	listsvc "quantumgrid-backend/internal/application/listings"
	"quantumgrid-backend/internal/application/matching"
	bandsvc "quantumgrid-backend/internal/application/pricebands"
	"quantumgrid-backend/internal/application/settlement"
	"quantumgrid-backend/internal/application/ticker"
	tradesvc "quantumgrid-backend/internal/application/trades"
	"quantumgrid-backend/internal/config"
	"quantumgrid-backend/internal/constants"
	"quantumgrid-backend/internal/infrastructure/metrics"
	healthhandler "quantumgrid-backend/internal/interfaces/handlers/health"
	lehandler "quantumgrid-backend/internal/interfaces/handlers/listingevents"
	listhandler "quantumgrid-backend/internal/interfaces/handlers/listings"
	markethandler "quantumgrid-backend/internal/interfaces/handlers/market"
	bandhandler "quantumgrid-backend/internal/interfaces/handlers/pricebands"
	tradehandler "quantumgrid-backend/internal/interfaces/handlers/trading"
	"quantumgrid-backend/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Deps are the shared connections the app is built on. Publisher and Kafka are nil when
// no brokers are configured.
type Deps struct {
	DB        *gorm.DB
	Rdb       *redis.Client
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Publisher settlement.Publisher
	Kafka     healthsvc.Pinger
	Ticker    *ticker.Service
}

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// CreateApp builds the Fiber app with global middleware and every route.
func CreateApp(cfg *config.Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.CORSOrigin,
		DevPassword:   cfg.DevPassword,
	}))
	app.Use(middleware.Session(deps.Rdb))
	app.Use(middleware.HealthMarker(deps.Rdb))
	app.Use(recover.New())

	// --- Routes (no auth) ---
	healthDeps := healthsvc.Dependencies{Rdb: deps.Rdb, Kafka: deps.Kafka}
	if deps.DB != nil {
		healthDeps.DB = &gormDBPinger{db: deps.DB}
	}
	hh := &healthhandler.Handlers{Deps: healthDeps, HealthAdminKey: cfg.HealthAdminKey}
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	db := deps.DB
	bands := &bandsvc.Service{DB: db}
	listings := &listsvc.Service{DB: db, Bands: bands, SourceTypes: cfg.SourceTypes, Metrics: deps.Metrics}
	matcher := &matching.Engine{Listings: listings, Metrics: deps.Metrics}
	trades := &tradesvc.Service{DB: db, Metrics: deps.Metrics}
	engine := &settlement.Engine{
		DB:        db,
		Bands:     bands,
		Listings:  listings,
		Matcher:   matcher,
		Ledger:    trades,
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
	}

	api := app.Group("/api/v1", middleware.RequireAuth())

	// Listings
	lh := &listhandler.Handlers{Service: listings}
	lg := api.Group("/listings")
	lg.Post("/offers", middleware.AuthorizePermission(constants.CreateListing), lh.CreateListing)
	lg.Get("/marketplace", lh.Marketplace)
	lg.Get("/my-offers", lh.MyOffers)
	lg.Get("/offers/:listing_id", lh.GetListing)
	lg.Put("/offers/:listing_id", middleware.AuthorizePermission(constants.CreateListing), lh.UpdatePrice)
	lg.Delete("/offers/:listing_id", lh.DeleteListing)

	// ListingEvents
	leh := &lehandler.Handlers{Service: &lesvc.Service{DB: db}}
	leg := api.Group("/listing-events")
	leg.Get("/mine", leh.GetMyEvents)
	leg.Get("/:listing_id", leh.GetListingEvents)

	// Trading
	th := &tradehandler.Handlers{Settlement: engine, Matcher: matcher, Trades: trades}
	tg := api.Group("/trading")
	tg.Post("/match", th.Match)
	tg.Post("/requests", middleware.AuthorizePermission(constants.BuyEnergy), th.SubmitPurchaseRequest)
	tg.Post("/execute", middleware.AuthorizePermission(constants.CreateListing), th.ExecuteDirectTrade)
	tg.Get("/trades", th.ListTrades)
	tg.Get("/trades/:trade_id", th.GetTrade)
	tg.Patch("/trades/:trade_id/status", th.UpdateDisputeStatus)
	tg.Patch("/trades/:trade_id/lifecycle", th.UpdateLifecycleStatus)

	// Price bands
	bh := &bandhandler.Handlers{Service: bands}
	bg := api.Group("/price-bands")
	bg.Get("/", bh.ListBands)
	bg.Get("/:region", bh.GetBand)
	bg.Put("/:region", middleware.AuthorizePermission(constants.ManagePriceBands), bh.SetBand)

	// Market ticker
	if deps.Ticker != nil {
		mh := &markethandler.Handlers{Ticks: deps.Ticker}
		api.Get("/market/ticker", mh.Ticker)
	}

	return app
}
