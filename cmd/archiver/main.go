// Command archiver copies the monitor topic into Postgres and serves it back
// over HTTP for inspection.
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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"civitas/internal/archive"
	jwttoken "civitas/internal/jwt_token"
	"civitas/internal/platform/config"
	"civitas/internal/platform/httpserver"
	"civitas/internal/platform/logger"
	"civitas/pkg/platform/middleware/auth"
)

func main() {
	cfg, err := config.FromEnv()
	if err == nil {
		err = cfg.ValidateArchive()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.Mode, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("archiver stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	db, err := sql.Open("postgres", cfg.DB.URL)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	store := archive.NewPostgres(db)
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	client, err := archive.NewKafkaClient(cfg.Monitor.KafkaBrokers, cfg.Monitor.KafkaTopic, cfg.Archive.Group)
	if err != nil {
		return err
	}
	defer client.Close()

	consumer := archive.NewConsumer(client, store,
		archive.WithLogger(log),
		archive.WithMetrics(archive.NewMetrics(reg)),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "degraded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Route("/archive", func(r chi.Router) {
		if cfg.Auth.Enabled() {
			tokens := jwttoken.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience)
			r.Use(auth.RequireAuth(tokens, log), auth.RequireScope(jwttoken.ScopeRead))
		}
		r.Mount("/", archive.Routes(store))
	})
	srv := httpserver.New(cfg.Archive.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("archiving monitor topic",
			"topic", cfg.Monitor.KafkaTopic,
			"group", cfg.Archive.Group,
		)
		return consumer.Run(gctx)
	})
	g.Go(func() error {
		log.Info("starting archive api", "addr", cfg.Archive.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
