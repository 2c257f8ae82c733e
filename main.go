package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	allocationsapp "linkband-cloud/internal/allocations/application"
	allocationsevents "linkband-cloud/internal/allocations/application/events"
	allocationsrepo "linkband-cloud/internal/allocations/infrastructure/postgres"
	allocationshttp "linkband-cloud/internal/allocations/interfaces/http"
	"linkband-cloud/internal/audit"
	"linkband-cloud/internal/auth"
	"linkband-cloud/internal/cache"
	devicesapp "linkband-cloud/internal/devices/application"
	devicesevents "linkband-cloud/internal/devices/application/events"
	devicesrepo "linkband-cloud/internal/devices/infrastructure/postgres"
	deviceshttp "linkband-cloud/internal/devices/interfaces/http"
	"linkband-cloud/internal/eventing"
	"linkband-cloud/internal/eventing/eventbus"
	eventingrepo "linkband-cloud/internal/eventing/infrastructure/postgres"
	"linkband-cloud/internal/notify"
	"linkband-cloud/internal/observability/metrics"
	organizationsapp "linkband-cloud/internal/organizations/application"
	organizationsrepo "linkband-cloud/internal/organizations/infrastructure/postgres"
	organizationshttp "linkband-cloud/internal/organizations/interfaces/http"
	orgviewapp "linkband-cloud/internal/orgview/application"
	orgviewrepo "linkband-cloud/internal/orgview/infrastructure/postgres"
	orgviewhttp "linkband-cloud/internal/orgview/interfaces/http"
	servicingapp "linkband-cloud/internal/servicing/application"
	servicingevents "linkband-cloud/internal/servicing/application/events"
	servicingrepo "linkband-cloud/internal/servicing/infrastructure/postgres"
	servicinghttp "linkband-cloud/internal/servicing/interfaces/http"
	"linkband-cloud/internal/sweeper"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	orgChecker := auth.NewOrganizationChecker(db)
	auditRepo := audit.NewRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(allocationsevents.AllocationCreated{})
	registry.Register(allocationsevents.UserAssigned{})
	registry.Register(allocationsevents.AllocationTerminated{})
	registry.Register(allocationsevents.AllocationExpired{})
	registry.Register(devicesevents.DeviceHealthUpdated{})
	registry.Register(servicingevents.ServiceRequestCreated{})
	registry.Register(servicingevents.ServiceRequestStatusChanged{})
	registry.Register(servicingevents.ServiceRequestCompleted{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, "", baseBus)

	var notifier notify.Notifier
	if cfg.NotifyWebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatalf("notify webhook error: %v", err)
		}
		tpl, err := notify.NewTemplate(cfg.NotifyTemplate)
		if err != nil {
			logger.Fatalf("notify template error: %v", err)
		}
		channelNotifier, err := notify.NewChannelNotifier(channel, tpl,
			notify.WithCooldown(cfg.NotifyCooldown),
			notify.WithDedupeWindow(cfg.NotifyDedupeWindow),
		)
		if err != nil {
			logger.Fatalf("notifier error: %v", err)
		}
		notifier = channelNotifier
	}

	deviceRepo := devicesrepo.NewDeviceRepository(db)
	orgRepo := organizationsrepo.NewOrganizationRepository(db)
	allocationRepo := allocationsrepo.NewAllocationRepository(db)
	requestRepo := servicingrepo.NewRequestRepository(db)
	viewRepo := orgviewrepo.NewViewRepository(db)

	deviceService, err := devicesapp.NewService(deviceRepo, publisher)
	if err != nil {
		logger.Fatalf("device service error: %v", err)
	}
	organizationService, err := organizationsapp.NewService(orgRepo)
	if err != nil {
		logger.Fatalf("organization service error: %v", err)
	}
	allocationService, err := allocationsapp.NewService(db, orgRepo, publisher)
	if err != nil {
		logger.Fatalf("allocation service error: %v", err)
	}
	servicingService, err := servicingapp.NewService(db, allocationRepo, allocationService, publisher,
		servicingapp.WithNotifier(notifier))
	if err != nil {
		logger.Fatalf("servicing service error: %v", err)
	}
	syncService, err := orgviewapp.NewSyncService(db, orgRepo, deviceRepo, allocationRepo, requestRepo, logger,
		orgviewapp.WithNotifier(notifier))
	if err != nil {
		logger.Fatalf("sync service error: %v", err)
	}

	var dashboardCache cache.Cache = cache.NewMemory()
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		if err != nil {
			logger.Fatalf("redis cache error: %v", err)
		}
		dashboardCache = redisCache
	}
	dashboardService, err := orgviewapp.NewDashboardService(viewRepo,
		orgviewapp.WithCache(dashboardCache, cfg.DashboardCacheTTL))
	if err != nil {
		logger.Fatalf("dashboard service error: %v", err)
	}

	orgviewapp.RegisterSyncConsumers(baseBus, processedStore, syncService, dashboardService, logger)

	sweeperCfg, err := sweeper.LoadConfig()
	if err != nil {
		logger.Fatalf("sweeper config error: %v", err)
	}
	rentalSweeper, err := sweeper.NewSweeper(allocationService, allocationRepo, sweeperCfg, logger,
		sweeper.WithNotifier(notifier))
	if err != nil {
		logger.Fatalf("sweeper error: %v", err)
	}
	go rentalSweeper.Run(context.Background())

	go func() {
		ticker := time.NewTicker(cfg.DispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), 50); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	deviceHandler, err := deviceshttp.NewHandler(deviceService, orgChecker, auditRepo)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}
	allocationHandler, err := allocationshttp.NewHandler(allocationService, orgChecker, auditRepo)
	if err != nil {
		logger.Fatalf("allocation handler error: %v", err)
	}
	servicingHandler, err := servicinghttp.NewHandler(servicingService, orgChecker, auditRepo)
	if err != nil {
		logger.Fatalf("servicing handler error: %v", err)
	}
	organizationHandler, err := organizationshttp.NewHandler(organizationService, auditRepo)
	if err != nil {
		logger.Fatalf("organization handler error: %v", err)
	}
	orgviewHandler, err := orgviewhttp.NewHandler(dashboardService, syncService, orgChecker)
	if err != nil {
		logger.Fatalf("orgview handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/allocations", allocationHandler)
	mux.Handle("/api/v1/allocations/", allocationHandler)
	mux.Handle("/api/v1/service-requests", servicingHandler)
	mux.Handle("/api/v1/service-requests/", servicingHandler)
	mux.Handle("/api/v1/organizations", organizationHandler)
	mux.Handle("/api/v1/organizations/", organizationHandler)
	mux.Handle("/api/v1/dashboard", orgviewHandler)
	mux.Handle("/api/v1/dashboard/", orgviewHandler)
	mux.Handle("/api/v1/views/sync", orgviewHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL        string
	HTTPAddr           string
	JWTSecret          string
	RedisAddr          string
	DashboardCacheTTL  time.Duration
	DispatchInterval   time.Duration
	NotifyWebhookURL   string
	NotifyTemplate     string
	NotifyCooldown     time.Duration
	NotifyDedupeWindow time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:        getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:           getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:          getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		RedisAddr:          getenvDefault("REDIS_ADDR", ""),
		DashboardCacheTTL:  getenvDuration("DASHBOARD_CACHE_TTL", 30*time.Second),
		DispatchInterval:   getenvDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
		NotifyWebhookURL:   getenvDefault("NOTIFY_WEBHOOK_URL", ""),
		NotifyTemplate:     getenvDefault("NOTIFY_TEMPLATE", ""),
		NotifyCooldown:     getenvDuration("NOTIFY_COOLDOWN", 0),
		NotifyDedupeWindow: getenvDuration("NOTIFY_DEDUP_WINDOW", 0),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
