package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/parceltrack/parcel-platform/aggregator"
	"github.com/parceltrack/parcel-platform/bootstrap"
	"github.com/parceltrack/parcel-platform/config"
	"github.com/parceltrack/parcel-platform/gateway"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	cfg.Service.Name = "api-gateway"

	log, err := bootstrap.NewLogger(cfg)
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	clients := &aggregator.HTTPClients{
		PackageBaseURL:  cfg.Services.PackageURL,
		DeliveryBaseURL: cfg.Services.DeliveryURL,
		UserBaseURL:     cfg.Services.UserURL,
		Client:          &http.Client{},
	}

	opts := []aggregator.Option{aggregator.WithCallTimeout(cfg.Aggregator.CallTimeout)}
	if cfg.Redis.URL != "" {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal("parse redis url", zap.Error(err))
		}
		opts = append(opts, aggregator.WithCache(redis.NewClient(redisOpts), cfg.Redis.CacheTTL))
	}

	agg := aggregator.New(clients.Readers(), log, opts...)

	gw, err := gateway.New(gateway.Backends{
		PackageURL:  cfg.Services.PackageURL,
		DeliveryURL: cfg.Services.DeliveryURL,
		UserURL:     cfg.Services.UserURL,
	}, agg, log)
	if err != nil {
		log.Fatal("init gateway", zap.Error(err))
	}

	if err := bootstrap.Serve(cfg.Service.HTTPAddr, gw.Router(), log); err != nil {
		log.Fatal("server", zap.Error(err))
	}
}
