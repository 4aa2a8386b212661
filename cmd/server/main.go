// The hivegate server is the token issuer: it exchanges identity provider
// logins for signed credentials, tracks their sessions, and publishes the
// verification keys.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/hivegate/api"
	"go.pilab.hu/hivegate/config"
	"go.pilab.hu/hivegate/idp"
	"go.pilab.hu/hivegate/internal/metrics"
	"go.pilab.hu/hivegate/issuer"
	"go.pilab.hu/hivegate/registry"
	"go.pilab.hu/hivegate/tracing"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	setupLogging(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("registry_backend", cfg.RegistryBackend).
		Str("issuer", cfg.IssuerName).
		Msg("starting hivegate server")

	tp, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing tracer provider")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(ctx, tp); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown")
		}
	}()

	ctx := context.Background()
	reg, cleanup, err := buildRegistry(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("initializing session registry")
	}
	defer cleanup()

	keys, err := issuer.NewKeySet()
	if err != nil {
		log.Fatal().Err(err).Msg("generating signing keys")
	}

	provider, err := idp.NewKeycloak(idp.KeycloakConfig{
		BaseURL:      cfg.KeycloakBaseURL,
		Realm:        cfg.KeycloakRealm,
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configuring identity provider")
	}

	iss := issuer.New(provider, reg, keys, issuer.Options{
		Name:            cfg.IssuerName,
		UserTokenTTL:    cfg.UserTokenTTL,
		ServiceTokenTTL: cfg.ServiceTokenTTL,
	})

	metrics.Init(prometheus.DefaultRegisterer)
	go trackSessionCount(ctx, reg, cfg.SweepInterval)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	api.New(iss, cfg.IssuerName).RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}

func setupLogging(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// trackSessionCount keeps the active-sessions gauge roughly current. Exact
// counts per scrape are not worth a registry round trip per request.
func trackSessionCount(ctx context.Context, reg registry.SessionRegistry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := reg.Count(ctx)
			if err != nil {
				log.Debug().Err(err).Msg("session count unavailable")
				continue
			}
			metrics.ActiveSessionsGauge.Set(float64(n))
		}
	}
}

// buildRegistry creates the configured session registry backend, starting a
// background sweeper for the memory variant. The returned cleanup also closes
// any owned client connections.
func buildRegistry(ctx context.Context, cfg *config.ServerConfig) (registry.SessionRegistry, func(), error) {
	switch cfg.RegistryBackend {
	case "memory":
		reg := registry.NewMemoryRegistry(cfg.SessionTTL, cfg.SweepInterval)
		return reg, func() { reg.Close(context.Background()) }, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		// reg.Close closes the client it was handed.
		reg := registry.NewRedisRegistry(client, "hivegate", cfg.SessionTTL)
		return reg, func() { reg.Close(context.Background()) }, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, err
		}
		reg, err := registry.NewMongoRegistry(ctx, client.Database(cfg.MongoDBName), cfg.SessionTTL)
		if err != nil {
			client.Disconnect(context.Background())
			return nil, nil, err
		}
		return reg, func() {
			reg.Close(context.Background())
			client.Disconnect(context.Background())
		}, nil

	default:
		return nil, nil, errors.New("unknown registry backend " + cfg.RegistryBackend)
	}
}
