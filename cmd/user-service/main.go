package main

import (
	"flag"
	"os"

	"github.com/parceltrack/parcel-platform/bootstrap"
	"github.com/parceltrack/parcel-platform/config"
	"github.com/parceltrack/parcel-platform/contract/event"
	"github.com/parceltrack/parcel-platform/publisher"
	"github.com/parceltrack/parcel-platform/services/users"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	cfg.Service.Name = "user-service"

	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}

	store, err := users.NewGormStore(db)
	if err != nil {
		log.Fatal("init store", zap.Error(err))
	}

	bus, err := bootstrap.NewBus(cfg, log)
	if err != nil {
		log.Fatal("connect bus", zap.Error(err))
	}
	defer bus.Close()

	svc := users.NewService(store, publisher.NewOutbound(event.DomainUser, bus.Publisher, log), log)

	handler := users.NewHTTPHandler(svc, log)
	if err := bootstrap.Serve(cfg.Service.HTTPAddr, handler.Router(), log); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
