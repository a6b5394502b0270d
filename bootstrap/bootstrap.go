// Package bootstrap assembles the shared runtime pieces of a service
// binary from its configuration: logger, database handle, bus adapter and
// the HTTP listener lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parceltrack/parcel-platform/adapters/inmemory"
	natsbus "github.com/parceltrack/parcel-platform/adapters/nats"
	"github.com/parceltrack/parcel-platform/adapters/rabbitmq"
	"github.com/parceltrack/parcel-platform/config"
	cbus "github.com/parceltrack/parcel-platform/contract/bus"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func NewLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Log.Mode == "development" {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

// OpenDatabase connects to postgres when a URL is configured; without one
// it falls back to a local sqlite file, which is enough for development.
func OpenDatabase(cfg config.Config) (*gorm.DB, error) {
	gcfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	if cfg.Database.URL != "" {
		db, err := gorm.Open(postgres.Open(cfg.Database.URL), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}

		return db, nil
	}

	name := cfg.Service.Name
	if name == "" {
		name = "service"
	}

	db, err := gorm.Open(sqlite.Open(name+".db"), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return db, nil
}

// Bus bundles the two halves of a bus connection with its shutdown hook.
type Bus struct {
	Publisher  cbus.Publisher
	Subscriber cbus.Subscriber
	Close      func()
}

// NewBus builds the adapter named by cfg.Bus.Driver.
func NewBus(cfg config.Config, log *zap.Logger) (*Bus, error) {
	switch cfg.Bus.Driver {
	case "rabbitmq":
		rcfg := rabbitmq.Config{
			URL:         cfg.Bus.URL,
			ConnTimeout: cfg.Bus.ConnTimeout,
			MaxAttempts: cfg.Bus.MaxAttempts,
		}

		pub, closeFn, err := rabbitmq.NewWithAMQPConn(rcfg)
		if err != nil {
			return nil, err
		}

		return &Bus{
			Publisher:  pub,
			Subscriber: rabbitmq.NewSubscriber(rcfg, log),
			Close:      closeFn,
		}, nil

	case "nats":
		pub, sub, closeFn, err := natsbus.NewWithNATS(natsbus.Config{
			URL:         cfg.Bus.URL,
			ConnTimeout: cfg.Bus.ConnTimeout,
		})
		if err != nil {
			return nil, err
		}

		return &Bus{Publisher: pub, Subscriber: sub, Close: closeFn}, nil

	case "memory", "inmemory", "":
		b := inmemory.New()
		return &Bus{Publisher: b, Subscriber: b, Close: func() {}}, nil
	}

	return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
}

// Serve runs the HTTP server until SIGINT or SIGTERM, then drains in-flight
// requests. The returned context is canceled when shutdown starts so
// background consumers can stop with the server.
func Serve(addr string, handler http.Handler, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return ServeContext(ctx, addr, handler, log)
}

func ServeContext(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}
