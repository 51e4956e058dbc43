package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"civitas/internal/actor"
	"civitas/internal/bus"
	"civitas/internal/bus/sinks"
	"civitas/internal/communication"
	"civitas/internal/correspondence"
	"civitas/internal/identity"
	jwttoken "civitas/internal/jwt_token"
	"civitas/internal/legislative"
	"civitas/internal/legislative/store"
	"civitas/internal/platform/config"
	"civitas/internal/platform/httpserver"
	"civitas/internal/platform/logger"
	"civitas/internal/platform/metrics"
	"civitas/internal/platform/redis"
	"civitas/internal/ratelimit"
	"civitas/internal/session"
	"civitas/internal/social"
	httptransport "civitas/internal/transport/http"
	"civitas/internal/transport/ws"
	"civitas/pkg/platform/circuit"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.Mode, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("civitas stopped", "error", err)
		os.Exit(1)
	}
}

// infra holds the process resources that need closing on shutdown.
type infra struct {
	redis *redis.Client
	db    *sql.DB
	kafka *kgo.Client
}

func (i *infra) close(ctx context.Context, log *slog.Logger) {
	if i.kafka != nil {
		if err := i.kafka.Flush(ctx); err != nil {
			log.Warn("flush monitor records", "error", err)
		}
		i.kafka.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	res := &infra{}
	defer res.close(context.WithoutCancel(ctx), log)

	busOpts := []bus.Option{
		bus.WithLogger(log),
		bus.WithMetrics(m),
		bus.WithCapacity(cfg.Bus.ActivityCapacity),
		bus.WithMiddleware(bus.Tracing(nil)),
	}
	if cfg.MonitorActive() {
		sink, err := monitorSink(ctx, cfg.Monitor, log, res)
		if err != nil {
			return err
		}
		busOpts = append(busOpts, bus.WithMonitor(sink))
	}
	b := bus.New(busOpts...)

	sessions, err := sessionStore(ctx, cfg.Redis, log, res)
	if err != nil {
		return err
	}
	proposals, err := proposalStore(ctx, cfg.DB, log, res)
	if err != nil {
		return err
	}

	seed, err := loadSeed(cfg.Server.SeedFile, cfg.Development())
	if err != nil {
		return err
	}
	renderer := correspondence.NewTemplateRenderer()
	if err := seed.templates(renderer); err != nil {
		return err
	}

	// Sponsor and viewer trackers subscribe before identity so they observe
	// the LOGIN_SUCCESS emitted by session rehydration.
	actors := []actor.Actor{
		legislative.New(b, proposals, proposals, legislative.WithLogger(log), legislative.WithMetrics(m)),
		social.New(b, social.NewMemoryDirectory(seed.profiles()...), social.WithLogger(log), social.WithMetrics(m)),
		communication.New(b, communication.NewMemoryMessenger(), communication.WithLogger(log), communication.WithMetrics(m)),
		correspondence.New(b, correspondence.NewLogMailer(log), renderer, correspondence.WithLogger(log), correspondence.WithMetrics(m)),
		identity.New(b, identity.NewMemoryDirectory(seed.users()...), sessions, identity.WithLogger(log), identity.WithMetrics(m)),
	}

	names := make([]string, 0, len(actors))
	for _, a := range actors {
		names = append(names, a.Name())
	}

	stream := ws.New(b, ws.WithLogger(log))
	handlerOpts := []httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithGatherer(reg),
		httptransport.WithStream(stream),
		httptransport.WithReservedSources(names...),
		httptransport.WithReservedTypes(identity.OutcomeTypes...),
	}
	if res.redis != nil {
		handlerOpts = append(handlerOpts, httptransport.WithHealthCheck("redis", res.redis.Health))
	}
	if res.db != nil {
		handlerOpts = append(handlerOpts, httptransport.WithHealthCheck("postgres", res.db.PingContext))
	}
	if cfg.Auth.Enabled() {
		tokens := jwttoken.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
		handlerOpts = append(handlerOpts, httptransport.WithAuth(tokens))
	} else if !cfg.Development() {
		log.Warn("signal intake is unauthenticated; set INTAKE_JWT_SECRET")
	}
	if limiter := signalLimiter(cfg.RateLimit, res); limiter != nil {
		handlerOpts = append(handlerOpts, httptransport.WithRateLimit(ratelimit.Middleware(limiter, log)))
	}
	srv := httpserver.New(cfg.Server.Addr, httptransport.New(b, handlerOpts...).Router())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting civitas", "addr", cfg.Server.Addr, "mode", cfg.Server.Mode, "monitor", cfg.MonitorActive())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		stream.Close()
		for _, a := range actors {
			a.Kill()
		}
		for _, a := range actors {
			a.Wait()
		}
		return err
	})
	return g.Wait()
}

func monitorSink(ctx context.Context, cfg config.Monitor, log *slog.Logger, res *infra) (bus.Sink, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return sinks.NewSlog(log), nil
	}
	client, err := sinks.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, err
	}
	res.kafka = client
	if err := sinks.EnsureTopic(ctx, client, cfg.KafkaTopic, 1); err != nil {
		return nil, err
	}
	log.Info("monitor shipping signals to kafka", "topic", cfg.KafkaTopic)
	breaker := circuit.New("monitor-kafka")
	return sinks.NewKafka(client, cfg.KafkaTopic, log, sinks.WithBreaker(breaker, sinks.NewSlog(log))), nil
}

func sessionStore(ctx context.Context, cfg config.RedisConfig, log *slog.Logger, res *infra) (session.Store, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if client == nil {
		log.Info("sessions kept in memory")
		return session.NewMemory(), nil
	}
	res.redis = client
	return session.NewRedis(client.Client,
		session.WithKeyPrefix(cfg.KeyPrefix),
		session.WithTTL(cfg.SessionTTL),
	), nil
}

func signalLimiter(cfg config.RateLimit, res *infra) ratelimit.Limiter {
	switch {
	case cfg.Signals == 0:
		return nil
	case res.redis != nil:
		return ratelimit.NewRedis(res.redis.Client, cfg.Signals, cfg.Window)
	default:
		return ratelimit.NewMemory(cfg.Signals, cfg.Window)
	}
}

// proposalRegistry is what the legislative actor needs from a store.
type proposalRegistry interface {
	legislative.Registry
	legislative.Storage
}

func proposalStore(ctx context.Context, cfg config.Database, log *slog.Logger, res *infra) (proposalRegistry, error) {
	if cfg.URL == "" {
		log.Info("proposals kept in memory")
		return store.NewMemory(), nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	res.db = db
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	pg := store.NewPostgres(db)
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}
