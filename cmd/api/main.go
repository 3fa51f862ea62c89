package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pressplay/checkout-engine/internal/checkout"
	"github.com/pressplay/checkout-engine/internal/common"
	"github.com/pressplay/checkout-engine/internal/config"
	"github.com/pressplay/checkout-engine/internal/events"
	"github.com/pressplay/checkout-engine/internal/health"
	"github.com/pressplay/checkout-engine/internal/identity"
	"github.com/pressplay/checkout-engine/internal/ledger"
	"github.com/pressplay/checkout-engine/internal/obs"
	"github.com/pressplay/checkout-engine/internal/payment"
	"github.com/pressplay/checkout-engine/internal/pricing"
	"github.com/pressplay/checkout-engine/internal/promo"
	"github.com/pressplay/checkout-engine/internal/ratelimit"
	"github.com/pressplay/checkout-engine/internal/resilience"
	"github.com/pressplay/checkout-engine/internal/security"
	"github.com/pressplay/checkout-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "checkout")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "checkout-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("apply migrations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "checkout-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	promoRepo := &store.PromoRepo{DB: pool}
	ledgerRepo := &store.LedgerRepo{DB: pool, DefaultPerUserLimit: cfg.DefaultPerUserLimit}
	orderRepo := &store.OrderRepo{DB: pool}
	paymentRepo := &store.PaymentRepo{DB: pool}
	eventRepo := &store.EventRepo{DB: pool}

	promoSvc := &promo.Service{Q: promoRepo, DefaultPerUserLimit: cfg.DefaultPerUserLimit}
	ledgerSvc := &ledger.Service{
		Store:          ledgerRepo,
		ReservationTTL: cfg.ReservationTTL,
		SweepBatch:     cfg.SweepBatch,
		Logger:         logger,
	}

	sandbox := payment.Sandbox{Secret: cfg.GatewaySecret, BaseURL: cfg.GatewayBaseURL}
	providers := map[string]payment.Provider{"sandbox": sandbox}
	var activeProvider payment.Provider = sandbox
	if cfg.GatewayBaseURL != "" && envBool("GATEWAY_REMOTE", false) {
		gateway := payment.Gateway{
			BaseURL: cfg.GatewayBaseURL,
			Secret:  cfg.GatewaySecret,
			HTTP: &resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     resilience.NewBreaker(cfg.BreakerFailureThreshold, 0.5, cfg.BreakerCooldown).WithTarget("payment-gateway").WithLogger(logger),
				BaseBackoff: 200 * time.Millisecond,
				MaxAttempts: 3,
				Timeout:     10 * time.Second,
			},
		}
		providers["gateway"] = gateway
		activeProvider = gateway
	}

	paymentSvc := &payment.Service{
		Store:     paymentRepo,
		Provider:  activeProvider,
		IntentTTL: cfg.IntentTTL,
		Callback:  envOrDefault("PUBLIC_BASE_URL", ""),
	}

	bus := &events.Bus{Store: eventRepo}

	checkoutSvc := &checkout.Service{
		Orders:  orderRepo,
		Promo:   promoSvc,
		Ledger:  ledgerSvc,
		Payment: paymentSvc,
		Events:  bus,
		Params: pricing.Params{
			TaxBps:                int(cfg.TaxBps),
			FreeShippingThreshold: pricing.Money(cfg.FreeShippingThresholdCents),
			FlatShippingRate:      pricing.Money(cfg.FlatShippingCents),
		},
		Logger: logger,
	}

	validate := validator.New()
	promoHandler := &promo.Handler{Svc: promoSvc, Validate: validate}
	checkoutHandler := &checkout.Handler{Svc: checkoutSvc, Validate: validate}
	webhookHandler := payment.Webhook{
		Providers: providers,
		Store:     paymentRepo,
		Settler:   checkoutSvc,
		Replay:    redisClient,
		ReplayTTL: cfg.WebhookReplayTTL,
	}

	resolver := identity.Resolver{
		Secret:    []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
		ClockSkew: 30 * time.Second,
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	validateLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:promo"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				if key, ok := identity.CustomerKey(r.Context()); ok {
					return key
				}
				return r.RemoteAddr
			},
			Window: time.Minute,
			Max:    cfg.RateLimitPerMin,
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("rate limiter") },
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{Enable: true}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(resolver.Resolve)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Guest-Email"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if mw := globalLimiterMiddleware(cfg, redisClient, logger); mw != nil {
		r.Use(mw)
	}

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", cfg.AppEnv != "production") {
		r.Mount("/debug/pprof", newPprofMux())
	}
	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/v1", func(v chi.Router) {
		v.With(resolver.RequireCustomer, validateLimit.Middleware).
			Post("/promo-codes/validate", promoHandler.Preview)

		v.With(resolver.RequireCustomer, idem.Middleware).
			Post("/checkout", checkoutHandler.Create)

		v.Group(func(auth chi.Router) {
			auth.Use(resolver.RequireCustomer)
			auth.Get("/orders", checkoutHandler.List)
			auth.Get("/orders/{orderID}", checkoutHandler.Get)
			auth.Get("/orders/{orderID}/payment", checkoutHandler.PaymentStatus)
			auth.Post("/orders/{orderID}/retry-payment", checkoutHandler.RetryPayment)
			auth.Post("/orders/{orderID}/cancel", checkoutHandler.Cancel)
		})

		v.Post("/payments/webhook/{provider}", webhookHandler.Handle)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-runCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server shutdown complete")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

// globalLimiterMiddleware caps request volume per client IP across the whole
// API, in front of the per-customer limit on promo validation.
func globalLimiterMiddleware(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) func(http.Handler) http.Handler {
	rate, err := limiter.NewRateFromFormatted(cfg.GlobalRateLimit)
	if err != nil {
		logger.Error().Err(err).Str("rate", cfg.GlobalRateLimit).Msg("parse global rate limit")
		return nil
	}
	limiterStore, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: "limiter:global"})
	if err != nil {
		logger.Error().Err(err).Msg("initialise limiter store")
		return nil
	}
	mw := limiterstdlib.NewMiddleware(limiter.New(limiterStore, rate))
	return mw.Handler
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}
