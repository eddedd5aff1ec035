package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ikramby/carburon/internal/auth"
	"github.com/ikramby/carburon/internal/config"
	"github.com/ikramby/carburon/internal/geocode"
	"github.com/ikramby/carburon/internal/handler"
	ratelimitmw "github.com/ikramby/carburon/internal/http/middleware"
	"github.com/ikramby/carburon/internal/location"
	"github.com/ikramby/carburon/internal/mapview"
	outboxworker "github.com/ikramby/carburon/internal/outbox"
	"github.com/ikramby/carburon/internal/realtime"
	"github.com/ikramby/carburon/internal/routing"
	"github.com/ikramby/carburon/internal/session"
	"github.com/ikramby/carburon/internal/signin"
	"github.com/ikramby/carburon/pkg/observability"
	outboxpkg "github.com/ikramby/carburon/pkg/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := observability.SetupLogger(cfg.ServiceName, cfg.LogLevel)
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, cfg.ServiceName)
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	sess, err := signIn(ctx, cfg, httpClient, logger)
	if err != nil {
		logger.Fatal("sign in", zap.Error(err))
	}
	logger = logger.With(zap.String("passenger_id", sess.PassengerID()))

	checks := map[string]observability.Check{}

	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres connect", zap.Error(err))
		}
		db.SetMaxOpenConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("postgres ping", zap.Error(err))
		}
		defer db.Close()
		if err := outboxworker.EnsureSchema(ctx, db); err != nil {
			logger.Fatal("outbox schema", zap.Error(err))
		}
		checks["postgres"] = db.PingContext
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName)); err == nil {
			natsConn = conn
			defer conn.Drain()
			checks["nats"] = func(context.Context) error {
				if !conn.IsConnected() {
					return fmt.Errorf("nats status %s", conn.Status())
				}
				return nil
			}
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}

	// Realtime channel to the dispatch server.
	var guard realtime.RequestGuard
	if redisClient != nil {
		guard = realtime.NewRedisRequestGuard(redisClient, "")
	}
	header := http.Header{}
	if sess.Token != "" {
		header.Set("Authorization", "Bearer "+sess.Token)
	}
	channel := realtime.NewChannel(
		realtime.WebsocketDialer(cfg.SocketServerURL, header, 10*time.Second),
		sess, guard, logger.Named("realtime"),
		realtime.Config{
			ReconnectAttempts: cfg.ReconnectAttempts,
			ReconnectDelay:    cfg.ReconnectDelay,
			RequestTTL:        cfg.RideRequestTTL,
		},
	)
	checks["realtime"] = func(context.Context) error {
		if s := channel.State(); s != realtime.StateConnected {
			return fmt.Errorf("realtime channel %s", s)
		}
		return nil
	}

	// Routing.
	provider := routing.ProviderConfig{BaseURL: cfg.ORSBaseURL, Profile: cfg.ORSProfile, APIKey: cfg.ORSAPIKey}
	resolver := routing.NewResolver(
		httpClient,
		routing.NewSnapper(httpClient, provider, cfg.SnapTimeout, logger.Named("snapper")),
		routing.DefaultStrategies(provider),
		routing.NewGenerator(nil),
		logger.Named("routing"),
		routing.ResolverConfig{
			Bounds:           cfg.ServiceArea,
			SnapRadiusMeters: cfg.SnapRadiusMeters,
			AttemptTimeout:   cfg.RouteAttemptTimeout,
		},
	)

	controller := mapview.NewController(resolver, channel, buildJournal(db, natsConn, cfg, sess, logger), sess, logger, mapview.Config{
		RerouteDistanceMeters: cfg.RerouteDistanceMeters,
	})

	// Device fixes arrive over gRPC and feed the tracker.
	fixes := location.NewStreamProvider()
	tracker := location.NewTracker(fixes, channel, controller.OnFix, sess, logger.Named("location"), location.TrackerConfig{
		FixTimeout:        cfg.FixTimeout,
		MaxCacheAge:       cfg.MaxFixAge,
		MinInterval:       cfg.WatchInterval,
		MinDistanceMeters: cfg.WatchDistanceMeters,
	})

	var geocodeCache geocode.Cache
	if redisClient != nil {
		geocodeCache = geocode.NewRedisCache(redisClient, "")
	}
	places := geocode.NewClient(httpClient, geocodeCache, logger, geocode.Config{
		BaseURL:  cfg.NominatimURL,
		CacheTTL: cfg.GeocodeCacheTTL,
	})

	api := handler.NewHTTP(controller, tracker, places, 0, logger.Named("http")).WithServiceArea(cfg.ServiceArea)
	if redisClient != nil {
		api.WithThrottle(ratelimitmw.NewRateLimiter(redisClient, rateLimits(cfg), logger.Named("ratelimit")))
	}
	if cfg.JWTSecret != "" {
		if err := issueLocalToken(cfg, sess, logger); err != nil {
			logger.Fatal("local api token", zap.Error(err))
		}
	}

	r := chi.NewRouter()
	r.Mount("/observability", observability.MetricsRouter(checks, 2*time.Second))
	r.Get("/docs/openapi.yaml", handler.DocsHandler)
	r.Mount("/", api.Router(auth.Middleware(cfg.JWTSecret, sess.PassengerID(), auth.RolePassenger)))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err))
	}
	grpcSrv := grpc.NewServer(grpc.ForceServerCodec(location.Codec()))
	location.RegisterLocationServer(grpcSrv, location.NewServer(fixes, logger))

	go func() {
		logger.Info("device bridge listening", zap.String("addr", lis.Addr().String()))
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	go func() {
		if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("map view stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := channel.Run(ctx, controller.OnRealtime); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("realtime channel stopped", zap.Error(err))
		}
	}()

	go startTracking(ctx, tracker, controller, logger)

	if db != nil && natsConn != nil {
		worker := outboxworker.NewWorker(db, natsConn, logger.Named("outbox"), outboxworker.WorkerConfig{
			PollInterval: cfg.OutboxPoll,
			BatchSize:    cfg.OutboxBatch,
			RetryMax:     cfg.OutboxRetry,
			Retention:    24 * time.Hour,
		})
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", zap.Error(err))
			}
		}()
	} else if db != nil {
		logger.Warn("outbox relay disabled without nats")
	}

	go func() {
		logger.Info("rider api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	tracker.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
}

// startTracking retries until the device bridge delivers a first fix.
func startTracking(ctx context.Context, tracker *location.Tracker, controller *mapview.Controller, logger *zap.Logger) {
	for {
		_, err := tracker.Start(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		logger.Warn("location tracking unavailable", zap.Error(err))
		controller.Post(mapview.LocationFailed{Err: err})
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func signIn(ctx context.Context, cfg config.Config, client *http.Client, logger *zap.Logger) (session.Session, error) {
	if cfg.RiderID != "" {
		return session.New(session.Passenger{ID: cfg.RiderID}, "")
	}
	c := signin.NewClient(cfg.APIURL, client, 10*time.Second, logger.Named("signin"))
	return c.SignIn(ctx, cfg.RiderUsername, cfg.RiderPassword)
}

func buildJournal(db *sql.DB, natsConn *nats.Conn, cfg config.Config, sess session.Session, logger *zap.Logger) mapview.Journal {
	switch {
	case db != nil:
		return outboxworker.NewSQLJournal(db, cfg.EventsSubject, sess)
	case natsConn != nil:
		return outboxworker.NewPublishJournal(outboxpkg.NewPublisher(natsConn, cfg.EventsSubject), sess)
	default:
		logger.Info("session journal disabled")
		return nil
	}
}

func rateLimits(cfg config.Config) map[string]ratelimitmw.RateConfig {
	out := make(map[string]ratelimitmw.RateConfig, len(cfg.RateLimits))
	for scope, l := range cfg.RateLimits {
		out[scope] = ratelimitmw.RateConfig{Rate: l.RPS, Burst: l.Burst}
	}
	return out
}

// issueLocalToken mints the bearer token local clients present to the API.
// It goes to local_token_file when set, else to the log.
func issueLocalToken(cfg config.Config, sess session.Session, logger *zap.Logger) error {
	token, err := auth.Issue(cfg.JWTSecret, sess.PassengerID(), auth.RolePassenger, cfg.LocalTokenTTL)
	if err != nil {
		return err
	}
	if cfg.LocalTokenFile == "" {
		logger.Info("local api token issued", zap.String("token", token), zap.Duration("ttl", cfg.LocalTokenTTL))
		return nil
	}
	if err := os.WriteFile(cfg.LocalTokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	logger.Info("local api token written", zap.String("path", cfg.LocalTokenFile))
	return nil
}
