package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/parceltrack/parcel-platform/bootstrap"
	"github.com/parceltrack/parcel-platform/config"
	"github.com/parceltrack/parcel-platform/consumer"
	"github.com/parceltrack/parcel-platform/contract/event"
	"github.com/parceltrack/parcel-platform/publisher"
	"github.com/parceltrack/parcel-platform/services/deliveries"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	cfg.Service.Name = "delivery-service"

	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}

	store, err := deliveries.NewGormStore(db)
	if err != nil {
		log.Fatal("init store", zap.Error(err))
	}

	dead, err := consumer.NewGormDeadLetterStore(db)
	if err != nil {
		log.Fatal("init dead letter store", zap.Error(err))
	}

	bus, err := bootstrap.NewBus(cfg, log)
	if err != nil {
		log.Fatal("connect bus", zap.Error(err))
	}
	defer bus.Close()

	svc := deliveries.NewService(store, publisher.NewOutbound(event.DomainDelivery, bus.Publisher, log), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The consumer runs beside the HTTP server and stops with it.
	go func() {
		if err := svc.Consumer(dead).Run(ctx, bus.Subscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("consumer stopped", zap.Error(err))
			stop()
		}
	}()

	handler := deliveries.NewHTTPHandler(svc, log)
	if err := bootstrap.ServeContext(ctx, cfg.Service.HTTPAddr, handler.Router(), log); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
