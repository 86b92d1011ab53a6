package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/goliatone/go-patient-auth"
)

// ServerConfig holds the process level settings, auth settings are loaded
// separately through auth.LoadConfigFromEnv.
type ServerConfig struct {
	DatabaseURL    string        `env:"DATABASE_URL" envDefault:"file:patient_auth.db?cache=shared"`
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8572"`
	MetricsAddr    string        `env:"METRICS_ADDR" envDefault:":9572"`
	AuditLogPath   string        `env:"AUDIT_LOG_PATH" envDefault:"var/log/auth_audit.log"`
	AdminUsername  string        `env:"ADMIN_BOOTSTRAP_USERNAME" envDefault:"admin"`
	AdminEmail     string        `env:"ADMIN_BOOTSTRAP_EMAIL" envDefault:"admin@localhost"`
	AdminPassword  string        `env:"ADMIN_BOOTSTRAP_PASSWORD"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	lgr := logrus.New()
	lgr.SetFormatter(&logrus.JSONFormatter{})

	srvCfg, err := env.ParseAs[ServerConfig]()
	if err != nil {
		lgr.WithError(err).Fatal("invalid server configuration")
	}
	if level, err := logrus.ParseLevel(srvCfg.LogLevel); err == nil {
		lgr.SetLevel(level)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		lgr.WithError(err).Fatal("invalid auth configuration")
	}

	logger := auth.NewLogrusLogger(lgr)
	ctx := context.Background()

	db, err := openDB(srvCfg.DatabaseURL)
	if err != nil {
		lgr.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	store := auth.NewBunStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		lgr.WithError(err).Fatal("failed to create account schema")
	}

	dbSink := auth.NewDBSink(db)
	if err := dbSink.EnsureSchema(ctx); err != nil {
		lgr.WithError(err).Fatal("failed to create audit schema")
	}

	fileSink, err := auth.NewFileSink(srvCfg.AuditLogPath)
	if err != nil {
		lgr.WithError(err).Fatal("failed to open audit log")
	}
	defer fileSink.Close()

	registry := prometheus.NewRegistry()
	metricsSink, err := auth.NewMetricsSink(registry)
	if err != nil {
		lgr.WithError(err).Fatal("failed to register metrics")
	}

	audit := auth.NewAsyncSink(
		auth.NewMultiSink(fileSink, dbSink, metricsSink),
		auth.WithAuditLogger(logger),
	)

	service := auth.NewService(store, authCfg).
		WithLogger(logger).
		WithAuditSink(audit)

	if srvCfg.AdminPassword != "" {
		res, err := service.EnsureAdmin(ctx, srvCfg.AdminUsername, srvCfg.AdminEmail, srvCfg.AdminPassword)
		if err != nil {
			lgr.WithError(err).Fatal("failed to bootstrap admin account")
		}
		if !res.OK() && res.Outcome != auth.OutcomeConflict {
			lgr.WithField("outcome", res.Outcome.String()).Fatal("admin bootstrap rejected")
		}
	}

	metricsSrv := &http.Server{
		Addr:              srvCfg.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lgr.WithError(err).Error("metrics server stopped")
		}
	}()

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: false,
			StrictRouting:     false,
		}))
	})

	controller := auth.NewHTTPController(service, authCfg, auth.WithControllerLogger(logger))
	auth.RegisterAuthRoutes(srv.Router(), controller)

	go func() {
		if err := srv.Serve(srvCfg.HTTPAddr); err != nil {
			lgr.WithError(err).Error("http server stopped")
		}
	}()

	lgr.WithField("addr", srvCfg.HTTPAddr).Info("patient auth server started")

	sig := WaitExitSignal()
	lgr.WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srvCfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		lgr.WithError(err).Warn("http shutdown error")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		lgr.WithError(err).Warn("metrics shutdown error")
	}
	if err := audit.Close(shutdownCtx); err != nil {
		lgr.WithError(err).Warn("audit drain error")
	}
}

// openDB picks the dialect from the DSN scheme
func openDB(dsn string) (*bun.DB, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, err
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	}

	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
