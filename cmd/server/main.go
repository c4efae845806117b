package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aditya/resq/internal/analytics"
	"github.com/aditya/resq/internal/cache"
	"github.com/aditya/resq/internal/clock"
	"github.com/aditya/resq/internal/config"
	"github.com/aditya/resq/internal/database"
	"github.com/aditya/resq/internal/handler"
	"github.com/aditya/resq/internal/logger"
	"github.com/aditya/resq/internal/mapview"
	"github.com/aditya/resq/internal/middleware"
	"github.com/aditya/resq/internal/models"
	"github.com/aditya/resq/internal/notify"
	"github.com/aditya/resq/internal/repository"
	"github.com/aditya/resq/internal/service"
	"github.com/aditya/resq/pkg/utils"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		slog.Error("failed to build logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	flags, err := cfg.FeatureFlags()
	if err != nil {
		log.Error("invalid feature flags", "error", err)
		os.Exit(1)
	}

	// Initialize New Relic (optional)
	var nrApp *newrelic.Application
	if cfg.NewRelicEnabled && cfg.NewRelicLicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelicAppName),
			newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warn("failed to initialize New Relic", "error", err)
			nrApp = nil
		} else if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
			log.Warn("New Relic connection timeout", "error", err)
		} else {
			log.Info("New Relic connected")
		}
	}

	ctx := context.Background()
	var checks []healthCheck

	// PostgreSQL backs either store when selected
	var db *database.PostgresDB
	if cfg.UsesPostgres() {
		db, err = database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
		if err != nil {
			log.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			log.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		checks = append(checks, healthCheck{name: "database", check: db.Health})
		log.Info("connected to PostgreSQL")
	}

	var mongoDB *database.MongoDB
	if cfg.MechanicStore == config.StoreMongo {
		mongoDB, err = database.NewMongo(cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Error("failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		defer mongoDB.Close()
		checks = append(checks, healthCheck{name: "mongo", check: mongoDB.Health})
		log.Info("connected to MongoDB")
	}

	// Redis is optional: without it there is no rate limiting, idempotency
	// replay or live mechanic locations.
	var (
		redisDB       *database.RedisDB
		locationCache cache.MechanicLocationCache
	)
	if cfg.RedisURL != "" {
		redisDB, err = database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisDB.Close()
		locationCache = cache.NewMechanicLocationCache(redisDB.Client)
		checks = append(checks, healthCheck{name: "redis", check: redisDB.Health})
		log.Info("connected to Redis")
	}

	// Repositories
	var requestRepo repository.RequestRepository
	switch cfg.RequestStore {
	case config.StorePostgres:
		requestRepo = repository.NewRequestRepository(db.DB)
	default:
		requestRepo = repository.NewMemoryRequestRepository()
	}

	var mechanicRepo repository.MechanicRepository
	switch cfg.MechanicStore {
	case config.StorePostgres:
		mechanicRepo = repository.NewMechanicRepository(db.DB)
	case config.StoreMongo:
		mechanicRepo = repository.NewMongoMechanicRepository(mongoDB.Client, mongoDB.Database)
	default:
		mechanicRepo = repository.NewMemoryMechanicRepository(repository.DemoMechanics(time.Now())...)
	}

	// Analytics
	emitters := []analytics.Emitter{analytics.NewLogEmitter(log)}
	if nrApp != nil {
		emitters = append(emitters, analytics.NewNewRelicEmitter(nrApp))
	}
	emitter := analytics.NewMulti(log, emitters...)

	// Core services
	clk := clock.Real()
	hub := service.NewHub(log)
	store := service.NewRequestStore(requestRepo, mechanicRepo, hub, clk, log)
	sequencer := service.NewStatusSequencer(store, hub, emitter, log)
	matcher := service.NewMechanicMatcher(store, emitter)

	// Notifications
	broadcaster := notify.NewBroadcaster(log)
	presence := notify.NewPresenceRegistry()
	var systemNotifier notify.SystemNotifier
	if cfg.FirebaseCredentialsFile != "" {
		fcm, err := notify.NewFCMNotifier(ctx, cfg.FirebaseCredentialsFile)
		if err != nil {
			log.Warn("system notifications disabled", "error", err)
		} else {
			systemNotifier = fcm
		}
	}
	bridge := notify.NewBridge(sequencer, broadcaster, systemNotifier, presence, log)
	defer bridge.Close()

	submission := service.NewRequestSubmissionFlow(service.SubmissionDeps{
		Validator: service.NewInputValidator(service.SubmissionRules{
			DescriptionMaxLength: cfg.DescriptionMaxLength,
			DisallowedWords:      cfg.DisallowedWords,
		}),
		Store:              store,
		Sequencer:          sequencer,
		Matcher:            matcher,
		GeolocationTimeout: cfg.GeolocationTimeout,
		Watcher:            bridge,
		Analytics:          emitter,
		Logger:             log,
	})

	var tracker handler.Tracker
	if cfg.DemoProgressionEnabled {
		progressor := service.NewProgressor(sequencer, store, clk, cfg.DemoProgressionInterval, log)
		defer progressor.Close()
		tracker = progressor
		log.Info("demo progression enabled", "interval", cfg.DemoProgressionInterval)
	}

	presenter := mapview.NewPresenter(flags, mapview.ProviderSettings{
		MapboxAccessToken: cfg.MapboxAccessToken,
		GoogleMapsAPIKey:  cfg.GoogleMapsAPIKey,
		LeafletTileURL:    cfg.LeafletTileURL,
	}, matcher, models.Coordinates{Lat: cfg.DefaultLat, Lng: cfg.DefaultLng}, emitter, log)

	// Handlers
	requestHandler := handler.NewRequestHandler(handler.RequestHandlerDeps{
		Submission: submission,
		Store:      store,
		Sequencer:  sequencer,
		Presence:   presence,
		Flags:      flags,
		Tracker:    tracker,
		Logger:     log,
	})
	mechanicHandler := handler.NewMechanicHandler(matcher, store, mechanicRepo, locationCache, flags)
	mapHandler := handler.NewMapHandler(presenter, matcher)
	featureHandler := handler.NewFeatureHandler(flags)
	sseHandler := handler.NewSSEHandler(sequencer, broadcaster, locationCache, flags, log)

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.IdempotencyHeader, handler.SessionHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", handler.SessionHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if nrApp != nil {
		r.Use(middleware.NewRelicMiddleware(nrApp, "/health"))
	}
	if redisDB != nil {
		r.Use(middleware.NewRateLimiter(redisDB.Client, cfg.RateLimitRequests, cfg.RateLimitWindow).Handler)
		r.Use(middleware.NewIdempotencyMiddleware(redisDB.Client, log).Handler)
	}

	r.Get("/health", healthHandler(checks))

	r.Route("/v1", func(r chi.Router) {
		requestHandler.RegisterRoutes(r)
		mechanicHandler.RegisterRoutes(r)
		mapHandler.RegisterRoutes(r)
		featureHandler.RegisterRoutes(r)
		sseHandler.RegisterRoutes(r)
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// No write timeout: event streams stay open for the life of a request.
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"env", cfg.Env,
		"request_store", cfg.RequestStore,
		"mechanic_store", cfg.MechanicStore,
		"map_provider", flags.MapProvider(),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-shutdownDone

	if nrApp != nil {
		nrApp.Shutdown(10 * time.Second)
	}
	log.Info("server stopped gracefully")
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

func healthHandler(checks []healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := map[string]string{}
		status := http.StatusOK
		for _, c := range checks {
			if err := c.check(r.Context()); err != nil {
				services[c.name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			services[c.name] = "up"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		utils.JSON(w, status, map[string]any{"status": overall, "services": services})
	}
}
