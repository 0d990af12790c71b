// Command statechartd runs a request machine behind an HTTP API.
//
// POST /v1/request/events with {"type":"FETCH","payload":"https://example.com"}
// starts a GET of the URL; GET /v1/request/state and /v1/request/state/stream
// report progress. Only public addresses are fetched unless
// FETCH_ALLOW_PRIVATE=true. The API is unauthenticated; run it behind a
// trusted proxy or on a local network. Prometheus metrics are served on /metrics. When REDIS_URL
// is set every snapshot is also published to redis.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/statechart/pkg/config"
	"github.com/dmitrymomot/statechart/pkg/httpapi"
	"github.com/dmitrymomot/statechart/pkg/httpserver"
	"github.com/dmitrymomot/statechart/pkg/logger"
	"github.com/dmitrymomot/statechart/pkg/machines/request"
	"github.com/dmitrymomot/statechart/pkg/metrics"
	"github.com/dmitrymomot/statechart/pkg/redis"
	"github.com/dmitrymomot/statechart/pkg/requestid"
	"github.com/dmitrymomot/statechart/pkg/statechart"
)

const serviceName = "statechartd"

type appConfig struct {
	Env            string        `env:"APP_ENV" envDefault:"development"`
	LogLevel       string        `env:"LOG_LEVEL"`
	LogFormat      string        `env:"LOG_FORMAT"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	AllowPrivate   bool          `env:"FETCH_ALLOW_PRIVATE" envDefault:"false"`

	HTTP  httpserver.Config
	Redis redis.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		slog.Error("failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithLevelName(cfg.LogLevel),
		logger.WithFormat(logger.Format(cfg.LogFormat)),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("statechartd stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	col, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}

	client := newFetchClient(cfg.RequestTimeout, cfg.AllowPrivate)
	svc := request.New(fetchURL(client),
		statechart.WithLogger[fetchContext](log),
		statechart.WithObserver[fetchContext](col),
	)

	var readiness []func(context.Context) error
	if cfg.Redis.ConnectionURL != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		pub := redis.NewSnapshotPublisher(rdb,
			redis.WithChannelPrefix(cfg.Redis.ChannelPrefix),
			redis.WithRetention(cfg.Redis.RetainFor),
			redis.WithPublisherLogger(log),
		)
		svc.Subscribe(redis.Listener[fetchContext](pub, svc.ID()))
		readiness = append(readiness, redis.Healthcheck(rdb))
		log.Info("publishing snapshots to redis", slog.String("channel", pub.Channel(svc.ID())))
	}

	if _, err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	api := httpapi.New(svc, httpapi.WithLogger(log))
	defer api.Close()

	r := chi.NewRouter()
	r.Use(requestid.Middleware(), middleware.RealIP)
	r.Get("/healthz", httpserver.HealthCheckHandler(log))
	r.Get("/readyz", httpserver.HealthCheckHandler(log, readiness...))
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/v1/request", api.Routes())

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}
