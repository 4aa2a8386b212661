// The hivegate gateway is the browser-facing entry point: it runs the
// login flow against the identity provider and proxies authenticated
// traffic to the backend applications.
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
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/hivegate/client"
	"go.pilab.hu/hivegate/config"
	"go.pilab.hu/hivegate/gateway"
	"go.pilab.hu/hivegate/idp"
	"go.pilab.hu/hivegate/tracing"
)

func main() {
	cfg, err := config.LoadGatewayConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	setupLogging(cfg.LogLevel, cfg.LogPretty)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("issuer_url", cfg.IssuerURL).
		Int("apps", len(cfg.Apps)).
		Msg("starting hivegate gateway")

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

	provider, err := idp.NewKeycloak(idp.KeycloakConfig{
		BaseURL:      cfg.KeycloakBaseURL,
		Realm:        cfg.KeycloakRealm,
		ClientID:     cfg.KeycloakClientID,
		ClientSecret: cfg.KeycloakClientSecret,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configuring identity provider")
	}

	store := gateway.NewSessionStore(cfg.BrowserSessionTTL, cfg.LoginFlowTTL)
	defer store.Stop()

	apps := make([]gateway.App, 0, len(cfg.Apps))
	for name, url := range cfg.Apps {
		apps = append(apps, gateway.App{Name: name, URL: url})
	}

	gw := gateway.New(store, provider, client.New(cfg.IssuerURL, nil), gateway.Options{
		PublicURL:     cfg.PublicURL,
		Apps:          apps,
		SecureCookies: cfg.SecureCookies,
		IdPBaseURL:    cfg.KeycloakBaseURL,
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	gw.RegisterRoutes(e)

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
